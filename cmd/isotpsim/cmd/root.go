package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/LoveWonYoung/isotplite/canbuf"
	"github.com/LoveWonYoung/isotplite/logrecorder"
	"github.com/LoveWonYoung/isotplite/tp_layer"
)

var rootCmd = &cobra.Command{
	Use:           "isotpsim",
	Short:         "ISO-TP receive engine toolbox",
	Long:          `Loopback simulation, bus listener and sender for the single-session ISO-TP receiver`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return openLogger(cmd.Context())
	},
}

// Execute adds all child commands to the root command and runs it with ctx.
func Execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.Error("command failed", zap.Error(err))
		log.Println("/!\\", err)
	}
	if recorder != nil {
		recorder.Close()
	}
	return err
}

var (
	rxID     uint32
	fcID     uint32
	stmin    uint8
	bs       uint8
	limit    uint16
	timeout  uint16
	capacity int
	ta, sa   int
	logDir   string
	debug    bool

	recorder *logrecorder.Recorder
	logger   = zap.NewNop()
)

func init() {
	log.SetFlags(0)
	pf := rootCmd.PersistentFlags()
	pf.Uint32Var(&rxID, "rx-id", 0x7E0, "CAN ID the receiver listens on")
	pf.Uint32Var(&fcID, "fc-id", 0x7E8, "CAN ID used for flow control")
	pf.Uint8Var(&stmin, "stmin", 0, "STmin advertised in flow control (0-127 ms)")
	pf.Uint8Var(&bs, "bs", 0, "block size advertised in flow control (0 = unlimited)")
	pf.Uint16Var(&limit, "limit", tp_layer.MaxReassembly, "reassembly limit in bytes")
	pf.Uint16Var(&timeout, "timeout", tp_layer.DefaultRxTimeoutMs, "receive timeout in ms")
	pf.IntVar(&capacity, "capacity", canbuf.DefaultCapacity, "frame queue capacity")
	pf.IntVar(&ta, "ta", -1, "normal fixed addressing target address (overrides ids)")
	pf.IntVar(&sa, "sa", -1, "normal fixed addressing source address (overrides ids)")
	pf.StringVar(&logDir, "log-dir", "logs", "log directory")
	pf.BoolVarP(&debug, "debug", "d", false, "debug mode")
}

func openLogger(ctx context.Context) error {
	r, err := logrecorder.New("isotp_", logrecorder.Options{Dir: logDir, Debug: debug, Console: debug})
	if err != nil {
		return err
	}
	recorder = r
	logger = r.Logger()
	go r.Run(ctx, logrecorder.DefaultRotateInterval)
	return nil
}

// receiverConfig builds the engine configuration from the persistent flags.
func receiverConfig() (tp_layer.Config, error) {
	cfg := tp_layer.Config{
		RxID:            rxID,
		FcTxID:          fcID,
		STmin:           stmin,
		BlockSize:       bs,
		ReassemblyLimit: limit,
		RxTimeoutMs:     timeout,
	}
	if ta >= 0 || sa >= 0 {
		if ta < 0 || sa < 0 || ta > 0xFF || sa > 0xFF {
			return cfg, fmt.Errorf("--ta and --sa must both be set to 0..255")
		}
		addr, err := tp_layer.NewAddress(tp_layer.NormalFixed29Bit,
			tp_layer.WithTargetAddress(byte(ta)),
			tp_layer.WithSourceAddress(byte(sa)))
		if err != nil {
			return cfg, err
		}
		cfg = addr.ReceiverConfig(cfg)
	}
	return cfg, nil
}

func newQueue() (canbuf.Queue, error) {
	if capacity == canbuf.DefaultCapacity {
		return &canbuf.FixedFrameQueue{}, nil
	}
	return canbuf.NewFrameQueue(capacity)
}
