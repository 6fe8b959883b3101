package testwire

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestSizeCodecOption(t *testing.T) {
	codec, _ := NewBinarySizeCodec(2, binary.LittleEndian)
	opt := SizeCodecOption(codec)

	var opts options
	opt(&opts)

	if opts.sizeCodec != codec {
		t.Error("sizeCodec not set correctly")
	}
}

func TestReadBufferSizeOption(t *testing.T) {
	opt := ReadBufferSizeOption(100)

	var opts options
	opt(&opts)

	if opts.readBufferSize != 100 {
		t.Errorf("readBufferSize = %d, want 100", opts.readBufferSize)
	}
}

func TestWriteTimeoutOption(t *testing.T) {
	opt := WriteTimeoutOption(time.Minute)

	var opts options
	opt(&opts)

	if opts.writeTimeout != time.Minute {
		t.Errorf("writeTimeout = %v, want %v", opts.writeTimeout, time.Minute)
	}
}

func TestMessageMaxSize(t *testing.T) {
	opt := MessageMaxSize(4096)

	var opts options
	opt(&opts)

	if opts.maxReadLength != 4096 {
		t.Errorf("maxReadLength = %d, want 4096", opts.maxReadLength)
	}
}

func TestOnErrorOption(t *testing.T) {
	called := false
	onError := func(err error) ErrorAction {
		called = true
		return Continue
	}
	opt := OnErrorOption(onError)

	var opts options
	opt(&opts)

	if opts.onError == nil {
		t.Fatal("onError is nil")
	}

	if opts.onError(nil) != Continue || !called {
		t.Error("onError callback not called")
	}
}

func TestLoggerOption(t *testing.T) {
	logger := &recordingLogger{}
	opt := LoggerOption(logger)

	var opts options
	opt(&opts)

	if opts.logger != logger {
		t.Error("logger not set correctly")
	}
}

func TestCheckOptions_DefaultValues(t *testing.T) {
	opts := buildOptions(nil)

	if opts.sizeCodec != DefaultSizeCodec {
		t.Error("sizeCodec should default to DefaultSizeCodec")
	}
	if opts.readBufferSize != defaultReadBufferSize {
		t.Errorf("readBufferSize = %d, want %d", opts.readBufferSize, defaultReadBufferSize)
	}
	if opts.maxReadLength != defaultMaxPackageLength {
		t.Errorf("maxReadLength = %d, want %d", opts.maxReadLength, defaultMaxPackageLength)
	}
	if opts.writeTimeout != 0 {
		t.Errorf("writeTimeout = %v, want 0", opts.writeTimeout)
	}
	if opts.logger == nil {
		t.Error("logger should have default value")
	}
	// Default onError should return Disconnect
	if opts.onError(errors.New("test")) != Disconnect {
		t.Error("default onError should return Disconnect")
	}
}

func TestCheckOptions_NegativeWriteTimeout(t *testing.T) {
	opts := buildOptions([]Option{WriteTimeoutOption(-time.Second)})
	if opts.writeTimeout != 0 {
		t.Errorf("writeTimeout = %v, want 0", opts.writeTimeout)
	}
}

func TestErrorAction(t *testing.T) {
	if Disconnect != 0 {
		t.Errorf("Disconnect = %d, want 0", Disconnect)
	}
	if Continue != 1 {
		t.Errorf("Continue = %d, want 1", Continue)
	}
}
