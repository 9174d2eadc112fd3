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

/*

Package splitcore coordinates the two processors of a split-core experiment controller.

The comms core runs network and management services. The kernel core runs uploaded,
time-critical experiment code inside a fixed window of physical memory. The two share
nothing but a single mailbox word and that memory window, and have no coherent cache
between them.

This package provides both ends of that link:

  - Channel, the single-word, half-duplex mailbox transport.
  - Kernel, which loads the kernel image, starts and stops the kernel core, and validates
    pointers that the kernel core hands back across the boundary.
  - Client, the blocking request/reply tunnel used by kernel-core code.
  - Service, the comms-core dispatcher that answers tunnel calls from the peripheral bus
    drivers (I2CMaster, SPIMaster), the artifact Cache and the WatchdogSet.

Physical memory is reached either through /dev/mem (MapPhys) or through the simulated
board in the sim package, which also runs Lua scripts as kernel-core programs.

*/
package splitcore
