// Copyright (C) The Phasetrend Authors. All rights reserved.
//
// SPDX-License-Identifier: AGPL-3.0

package main

import "github.com/virome/phasetrend"

func main() {
	phasetrend.Main()
}
