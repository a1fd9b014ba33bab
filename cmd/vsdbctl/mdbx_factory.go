//go:build mdbx

package main

import (
	"github.com/erigontech/vsdb/engine"
	"github.com/erigontech/vsdb/engine/mdbxengine"
)

const defaultAreaCount = 16

func init() {
	engineFactory = func(dir string) (engine.Engine, error) {
		return mdbxengine.Open(dir, defaultAreaCount)
	}
}
