// wakering - CLI application for the alarms and sensors of BLE smart rings.
package main

import (
	"github.com/SeamusWaldron/wakering/internal/cli"
)

func main() {
	cli.Execute()
}
