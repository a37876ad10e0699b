//go:build !linux

package cmd

import (
	"errors"

	"github.com/LoveWonYoung/isotplite/driver"
)

func newSocketCAN(string) (driver.CANDriver, error) {
	return nil, errors.New("socketcan is only available on linux")
}
