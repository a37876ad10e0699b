package cmd

import (
	"bytes"
	"context"
	"crypto/rand"
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
	simCount int
	simLen   int
	simHex   string
	simKey   string
	simTrace bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "loopback: segment, queue and reassemble messages",
	Long: `Runs a sender and the receive engine back to back through the frame queue
and checks that every message is reassembled byte for byte`,
	Args: cobra.NoArgs,
	RunE: runSim,
}

func init() {
	simCmd.Flags().IntVarP(&simCount, "count", "n", 100, "number of messages")
	simCmd.Flags().IntVarP(&simLen, "len", "l", 40, "random payload length")
	simCmd.Flags().StringVar(&simHex, "hex", "", "fixed payload in hex instead of random data")
	simCmd.Flags().StringVar(&simKey, "mac-key", "", "AES key in hex, appends a truncated CMAC to every message")
	simCmd.Flags().BoolVarP(&simTrace, "trace", "t", false, "print every frame")
	rootCmd.AddCommand(simCmd)
}

func runSim(cmd *cobra.Command, args []string) error {
	cfg, err := receiverConfig()
	if err != nil {
		return err
	}
	var auth *macauth.Authenticator
	if simKey != "" {
		key, err := driver.ParseKey(simKey)
		if err != nil {
			return err
		}
		if auth, err = macauth.New(key, macauth.DefaultTagLength); err != nil {
			return err
		}
	}
	var fixed []byte
	if simHex != "" {
		if fixed, err = driver.ParseHexPayload(simHex); err != nil {
			return err
		}
		simLen = len(fixed)
	}

	// 接收端发出的流控帧直接交给发送端
	fcCh := make(chan canbuf.CanFrame, 4)
	e, err := tp_layer.New(cfg, func(id uint32, data [8]byte, length uint8) bool {
		f := canbuf.NewFrame(id, data[:length])
		if simTrace {
			fmt.Println("<-", f.ColorString())
		}
		select {
		case fcCh <- f:
			return true
		default:
			return false
		}
	}, tp_layer.WithLogger(logger))
	if err != nil {
		return err
	}
	wireLen := simLen
	if auth != nil {
		wireLen += auth.TagLen()
	}
	if simLen < 1 || wireLen > int(e.Config().ReassemblyLimit) {
		return fmt.Errorf("message length %d does not fit reassembly limit %d", wireLen, e.Config().ReassemblyLimit)
	}
	q, err := newQueue()
	if err != nil {
		return err
	}
	stack := tp_layer.NewStack(q, e, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	got := make(chan []byte, 1)
	g.Go(func() error {
		return stack.Run(gctx, func(msg []byte) {
			select {
			case got <- append([]byte(nil), msg...):
			case <-gctx.Done():
			}
		})
	})

	sender := tp_layer.NewSender(e.Config().RxID, func(ctx context.Context, f canbuf.CanFrame) error {
		if simTrace {
			fmt.Println("->", f.ColorString())
		}
		return driver.EnqueueWithRetry(ctx, stack.Enqueue, f, 100, time.Millisecond)
	}, logger)
	sender.Padding = 0xAA
	wait := 2 * time.Duration(e.Config().RxTimeoutMs) * time.Millisecond

	start := time.Now()
	g.Go(func() error {
		defer cancel()
		bar := newBar(simCount*simLen, "[cyan][sim][reset] loopback")
		for i := 0; i < simCount; i++ {
			payload := fixed
			if payload == nil {
				payload = make([]byte, simLen)
				rand.Read(payload)
			}
			wire := payload
			if auth != nil {
				wire = auth.Seal(payload)
			}
			if err := sender.Send(gctx, wire, fcCh); err != nil {
				return fmt.Errorf("message %d: %w", i, err)
			}
			select {
			case msg := <-got:
				if auth != nil {
					opened, err := auth.Open(msg)
					if err != nil {
						return fmt.Errorf("message %d: %w", i, err)
					}
					msg = opened
				}
				if !bytes.Equal(msg, payload) {
					logger.Error("payload mismatch", zap.Binary("sent", payload), zap.Binary("received", msg))
					return fmt.Errorf("message %d: payload mismatch", i)
				}
			case <-time.After(wait):
				return fmt.Errorf("message %d: nothing reassembled within %s", i, wait)
			case <-gctx.Done():
				return nil
			}
			bar.Add(len(payload))
		}
		bar.Finish()
		return nil
	})
	err = g.Wait()
	fmt.Println()
	printStats(e.Stats(), stack.Dropped(), time.Since(start))
	return err
}

func printStats(st tp_layer.Stats, queueDropped uint64, took time.Duration) {
	ok := color.New(color.FgGreen).SprintFunc()
	bad := color.New(color.FgRed).SprintFunc()
	fmt.Printf("completed %s in %s\n", ok(st.Completed), took.Round(time.Millisecond))
	fmt.Printf("frames    accepted %d, dropped %d, queue full %d\n", st.FramesAccepted, st.FramesDropped, queueDropped)
	fmt.Printf("fc        sent %d, refused %d\n", st.FlowControls, st.TxRefused)
	if st.Overflows > 0 || st.Timeouts > 0 {
		fmt.Printf("aborted   overflow %s, timeout %s\n", bad(st.Overflows), bad(st.Timeouts))
	}
}
