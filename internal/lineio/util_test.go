package lineio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTakeLine(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("AT\r+CIEV:1\r")

	line, ok := takeLine(&buf, '\r')
	assert.True(t, ok)
	assert.Equal(t, "AT", string(line))

	line, ok = takeLine(&buf, '\r')
	assert.True(t, ok)
	assert.Equal(t, "+CIEV:1", string(line))

	_, ok = takeLine(&buf, '\r')
	assert.False(t, ok)
}

func TestIsWouldBlock(t *testing.T) {
	assert.False(t, isWouldBlock(nil))
}
