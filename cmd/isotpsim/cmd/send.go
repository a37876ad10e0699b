package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/driver"
	"github.com/LoveWonYoung/isotplite/macauth"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

var (
	sendData    string
	sendHexFile string
	sendKey     string
	sendPadding uint8
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "send one ISO-TP message to --rx-id",
	Long: `Segments a payload, transmits it to --rx-id and paces consecutive frames
by the flow control received on --fc-id`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	addDeviceFlags(sendCmd)
	sendCmd.Flags().StringVar(&sendData, "data", "", "payload in hex, e.g. \"22 F1 90\"")
	sendCmd.Flags().StringVar(&sendHexFile, "hex-file", "", "payload from an Intel HEX file")
	sendCmd.Flags().StringVar(&sendKey, "mac-key", "", "AES key in hex, appends a truncated CMAC")
	sendCmd.Flags().Uint8Var(&sendPadding, "padding", 0xAA, "frame padding byte")
	rootCmd.AddCommand(sendCmd)
}

func loadPayload() ([]byte, error) {
	switch {
	case sendData != "" && sendHexFile != "":
		return nil, errors.New("use either --data or --hex-file")
	case sendData != "":
		return driver.ParseHexPayload(sendData)
	case sendHexFile != "":
		f, err := os.Open(sendHexFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		start, data, err := driver.LoadIntelHex(f, 0xFF)
		if err != nil {
			return nil, err
		}
		fmt.Printf("loaded %d bytes from 0x%08X\n", len(data), start)
		return data, nil
	}
	return nil, errors.New("missing --data or --hex-file")
}

func runSend(cmd *cobra.Command, args []string) error {
	payload, err := loadPayload()
	if err != nil {
		return err
	}
	if sendKey != "" {
		key, err := driver.ParseKey(sendKey)
		if err != nil {
			return err
		}
		auth, err := macauth.New(key, macauth.DefaultTagLength)
		if err != nil {
			return err
		}
		payload = auth.Seal(payload)
	}
	cfg, err := receiverConfig()
	if err != nil {
		return err
	}
	adapter, err := openAdapter()
	if err != nil || adapter == nil {
		return err
	}
	defer adapter.Close()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	fcCh := make(chan canbuf.CanFrame, 8)
	g.Go(func() error {
		return adapter.Forward(gctx, func(f canbuf.CanFrame) bool {
			if f.ID != cfg.FcTxID {
				return true
			}
			select {
			case fcCh <- f:
				return true
			default:
				return false
			}
		})
	})

	bar := newBar(len(payload), "[cyan][send][reset] "+fmt.Sprintf("0x%X", cfg.RxID))
	remaining := len(payload)
	sender := tp_layer.NewSender(cfg.RxID, func(ctx context.Context, f canbuf.CanFrame) error {
		if err := adapter.WriteFrame(ctx, f); err != nil {
			return err
		}
		n := 7
		switch f.Data[0] >> 4 {
		case 0:
			n = remaining
		case 1:
			n = 6
		}
		n = min(n, remaining)
		remaining -= n
		bar.Add(n)
		return nil
	}, logger)
	sender.Padding = sendPadding

	g.Go(func() error {
		defer cancel()
		if err := sender.Send(gctx, payload, fcCh); err != nil {
			return err
		}
		bar.Finish()
		fmt.Println()
		return nil
	})
	return g.Wait()
}
