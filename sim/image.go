// Copyright 2022 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sim

import (
	"errors"
	"fmt"

	"github.com/rich1111/splitcore"
)

// ImageMagic starts the header of every simulated kernel image.
const ImageMagic = 0x4b53554c // "LUSK" little-endian

var errNoImage = errors.New("sim: no kernel image at the load address")

// ImageHeaderSize is the smallest header able to hold the magic and the script length.
const ImageHeaderSize = 8

// BuildImage packages a Lua script as a kernel image with a header of headerSize bytes.
func BuildImage(script []byte, headerSize uint32) ([]byte, error) {
	if headerSize < ImageHeaderSize {
		return nil, fmt.Errorf("sim: image header of %d bytes cannot hold magic and length", headerSize)
	}
	img := make([]byte, int(headerSize)+len(script))
	splitcore.Order.PutUint32(img[0:], ImageMagic)
	splitcore.Order.PutUint32(img[4:], uint32(len(script)))
	copy(img[headerSize:], script)
	return img, nil
}

// readImage returns the script of the image loaded in mem.
func readImage(mem splitcore.Memory, l splitcore.Layout) ([]byte, error) {
	var hdr [ImageHeaderSize]byte
	if err := mem.ReadAt(hdr[:], l.LoadAddress()); err != nil {
		return nil, err
	}
	if splitcore.Order.Uint32(hdr[0:]) != ImageMagic {
		return nil, errNoImage
	}
	n := splitcore.Order.Uint32(hdr[4:])
	if !l.ValidateSpan(l.ExecAddress, n) {
		return nil, fmt.Errorf("sim: script of %d bytes overruns the kernel window", n)
	}
	script := make([]byte, n)
	if err := mem.ReadAt(script, l.ExecAddress); err != nil {
		return nil, err
	}
	return script, nil
}
