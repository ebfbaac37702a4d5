package tools

import (
	"context"
	"runtime"
)

// I2CTool and SPITool expose the host's hardware buses to the agent on
// boards that have them. Neither bus is reachable from pure Go without a
// platform driver, so both report unavailability on every platform rather
// than pretending to succeed.

type I2CTool struct{}

func NewI2CTool() *I2CTool { return &I2CTool{} }

func (t *I2CTool) Name() string { return "i2c" }

func (t *I2CTool) Description() string {
	return "Read or write an I2C device register. Only available on boards with an exposed I2C bus."
}

func (t *I2CTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"bus":      map[string]interface{}{"type": "integer", "description": "I2C bus number"},
			"address":  map[string]interface{}{"type": "integer", "description": "Device address"},
			"register": map[string]interface{}{"type": "integer", "description": "Register to read or write"},
			"value":    map[string]interface{}{"type": "integer", "description": "Value to write (omit to read)"},
		},
		"required": []string{"bus", "address", "register"},
	}
}

func (t *I2CTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return ErrorResultf("i2c bus access is not available on %s/%s", runtime.GOOS, runtime.GOARCH)
}

type SPITool struct{}

func NewSPITool() *SPITool { return &SPITool{} }

func (t *SPITool) Name() string { return "spi" }

func (t *SPITool) Description() string {
	return "Transfer bytes over an SPI bus. Only available on boards with an exposed SPI bus."
}

func (t *SPITool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"bus":  map[string]interface{}{"type": "integer", "description": "SPI bus number"},
			"data": map[string]interface{}{"type": "string", "description": "Hex-encoded bytes to transfer"},
		},
		"required": []string{"bus", "data"},
	}
}

func (t *SPITool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	return ErrorResultf("spi bus access is not available on %s/%s", runtime.GOOS, runtime.GOARCH)
}
