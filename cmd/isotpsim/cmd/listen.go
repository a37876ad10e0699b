package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/driver"
	"github.com/LoveWonYoung/isotplite/macauth"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

var (
	listenKey   string
	listenTrace bool
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "reassemble ISO-TP messages from a CAN adapter",
	Args:  cobra.NoArgs,
	RunE:  runListen,
}

func init() {
	addDeviceFlags(listenCmd)
	listenCmd.Flags().StringVar(&listenKey, "mac-key", "", "AES key in hex, verify and strip a truncated CMAC")
	listenCmd.Flags().BoolVarP(&listenTrace, "trace", "t", false, "print every frame on the receive id")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := receiverConfig()
	if err != nil {
		return err
	}
	var auth *macauth.Authenticator
	if listenKey != "" {
		key, err := driver.ParseKey(listenKey)
		if err != nil {
			return err
		}
		if auth, err = macauth.New(key, macauth.DefaultTagLength); err != nil {
			return err
		}
	}
	adapter, err := openAdapter()
	if err != nil || adapter == nil {
		return err
	}
	defer adapter.Close()

	e, err := tp_layer.New(cfg, adapter.TxFunc(), tp_layer.WithLogger(logger))
	if err != nil {
		return err
	}
	q, err := newQueue()
	if err != nil {
		return err
	}
	stack := tp_layer.NewStack(q, e, logger)
	logger.Info("listening",
		zap.String("rx_id", fmt.Sprintf("0x%X", e.Config().RxID)),
		zap.String("fc_id", fmt.Sprintf("0x%X", e.Config().FcTxID)))

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// 设备停止后整个命令结束
		defer cancel()
		return adapter.Forward(gctx, func(f canbuf.CanFrame) bool {
			if f.ID != e.Config().RxID {
				return true
			}
			if listenTrace {
				fmt.Println(f.ColorString())
			}
			return stack.Enqueue(f)
		})
	})
	g.Go(func() error {
		return stack.Run(gctx, func(msg []byte) {
			printMessage(msg, auth)
		})
	})
	err = g.Wait()
	forwarded, dropped := adapter.Counts()
	logger.Info("listener stopped", zap.Uint64("forwarded", forwarded), zap.Uint64("dropped", dropped))
	printStats(e.Stats(), stack.Dropped(), 0)
	return err
}

var (
	tsColor  = color.New(color.FgHiBlack).SprintFunc()
	msgColor = color.New(color.FgYellow).SprintfFunc()
	macOK    = color.New(color.FgGreen).Sprint("MAC ok")
	macBad   = color.New(color.FgRed).Sprint("MAC fail")
)

func printMessage(msg []byte, auth *macauth.Authenticator) {
	ts := tsColor(time.Now().Format("15:04:05.000"))
	if auth == nil {
		fmt.Printf("%s [%d] %s\n", ts, len(msg), msgColor("% 02X", msg))
		return
	}
	payload, err := auth.Open(msg)
	if err != nil {
		fmt.Printf("%s [%d] %s %s\n", ts, len(msg), msgColor("% 02X", msg), macBad)
		return
	}
	fmt.Printf("%s [%d] %s %s\n", ts, len(payload), msgColor("% 02X", payload), macOK)
}
