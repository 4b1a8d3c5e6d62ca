// File: pkg/chromy/devices.go
package chromy

// Device describes an emulation preset applied via the collaborator's
// metrics and user-agent overrides.
type Device struct {
	Name      string
	Width     int64
	Height    int64
	Scale     float64
	Mobile    bool
	UserAgent string
}

// A few common presets. Emulate accepts any Device, these just save typing.
var (
	DeviceDesktop = Device{
		Name:   "Desktop",
		Width:  1280,
		Height: 800,
		Scale:  1,
	}
	DeviceIPhoneSE = Device{
		Name:      "iPhone SE",
		Width:     375,
		Height:    667,
		Scale:     2,
		Mobile:    true,
		UserAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1",
	}
	DevicePixel7 = Device{
		Name:      "Pixel 7",
		Width:     412,
		Height:    915,
		Scale:     2.625,
		Mobile:    true,
		UserAgent: "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
	}
)
