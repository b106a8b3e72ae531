package main

import (
	"github.com/outofforest/proton"

	"github.com/ElliottH/kbus/wire"
)

//go:generate go run .
func main() {
	proton.Generate("../types.proton.go",
		proton.Message[wire.Message](),
		proton.Message[wire.ReplierBindEvent](),
	)
}
