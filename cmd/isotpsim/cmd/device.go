package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/LoveWonYoung/isotplite/driver"
)

var (
	adapterName string
	comPort     string
	baudRate    int
	bitrate     int
	iface       string
)

func addDeviceFlags(c *cobra.Command) {
	c.Flags().StringVarP(&adapterName, "adapter", "a", "slcan", "adapter: slcan, socketcan")
	c.Flags().StringVarP(&comPort, "port", "p", "*", "slcan com-port, * = print available")
	c.Flags().IntVarP(&baudRate, "baudrate", "b", 115200, "slcan serial baudrate")
	c.Flags().IntVar(&bitrate, "bitrate", 500, "CAN bitrate in kbit/s")
	c.Flags().StringVarP(&iface, "iface", "i", "can0", "socketcan interface")
}

// openAdapter opens the selected device and wraps it for tp_layer.
// It returns nil, nil when only the port list was requested.
func openAdapter() (*driver.Adapter, error) {
	var dev driver.CANDriver
	switch adapterName {
	case "slcan":
		if comPort == "*" {
			ports, err := serial.GetPortsList()
			if err != nil {
				return nil, err
			}
			fmt.Println("available ports:")
			for _, p := range ports {
				fmt.Println("  " + p)
			}
			return nil, nil
		}
		dev = driver.NewSLCan(driver.SLCanConfig{Port: comPort, Baudrate: baudRate, Bitrate: bitrate}, logger)
	case "socketcan":
		d, err := newSocketCAN(iface)
		if err != nil {
			return nil, err
		}
		dev = d
	default:
		return nil, fmt.Errorf("unknown adapter %q", adapterName)
	}
	return driver.NewAdapter(dev, logger)
}
