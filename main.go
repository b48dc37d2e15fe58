package main

import (
	"context"

	"uartecho/boards"
	"uartecho/hal/platform"
	"uartecho/services/echo"
)

func main() {
	echo.Run(context.Background(), platform.Default(), boards.Pico)
}
