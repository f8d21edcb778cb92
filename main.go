// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/jcodagnone/geofoto/cmd"
)

var Version = "development"

func main() {
	cmd.Execute(Version)
}
