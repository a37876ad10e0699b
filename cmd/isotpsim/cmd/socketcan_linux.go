package cmd

import "github.com/LoveWonYoung/isotplite/driver"

func newSocketCAN(name string) (driver.CANDriver, error) {
	return driver.NewSocketCAN(name, logger), nil
}
