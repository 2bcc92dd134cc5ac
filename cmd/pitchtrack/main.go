// pitchtrack runs the pitch engine over a WAV file and prints the tracked
// trajectory, one line per analysis block.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-pitch/logging"
	"github.com/RyanBlaney/sonido-pitch/pitch"
)

var (
	flagInstrument      string
	flagA4              float64
	flagBlockSize       int
	flagCalibrateBlocks int
	flagVerbose         bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pitchtrack",
		Short: "Real-time monophonic pitch tracking",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagVerbose {
				logging.SetLevel(logging.DebugLevel)
			} else {
				logging.SetLevel(logging.WarnLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	trackCmd := &cobra.Command{
		Use:   "track <file.wav>",
		Short: "Track the pitch trajectory of a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrack(args[0])
		},
	}
	trackCmd.Flags().StringVarP(&flagInstrument, "instrument", "i", "voice", "inharmonicity model (see 'instruments')")
	trackCmd.Flags().Float64Var(&flagA4, "a4", 440.0, "reference tuning in Hz")
	trackCmd.Flags().IntVarP(&flagBlockSize, "block", "b", 2048, "samples per analysis block (power of two)")
	trackCmd.Flags().IntVar(&flagCalibrateBlocks, "calibrate-blocks", 0, "treat the first N blocks as ambient noise")

	instrumentsCmd := &cobra.Command{
		Use:   "instruments",
		Short: "List available inharmonicity models",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range pitch.Instruments() {
				fmt.Println(name)
			}
		},
	}

	rootCmd.AddCommand(trackCmd, instrumentsCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTrack(path string) error {
	samples, sampleRate, err := loadWAV(path)
	if err != nil {
		return err
	}

	cfg := pitch.DefaultConfig()
	cfg.SampleRate = sampleRate
	cfg.BlockSize = flagBlockSize
	cfg.Instrument = flagInstrument
	cfg.A4 = flagA4
	if nyquist := float64(sampleRate) / 2.0; cfg.MaxFreq > nyquist {
		cfg.MaxFreq = nyquist
	}
	if flagCalibrateBlocks > 0 {
		cfg.CalibrationFrames = flagCalibrateBlocks
	}

	engine, err := pitch.NewEngineWithConfig(cfg)
	if err != nil {
		return err
	}

	engine.Subscribe(func(f pitch.UnifiedPitchFrame) {
		if !f.Voiced {
			fmt.Printf("%8.3fs  %-4s  rms=%.4f\n", f.Timestamp.Seconds(), "-", f.RMS)
			return
		}
		fmt.Printf("%8.3fs  %s%-2d %+6.1fc  %8.2f Hz  conf=%.2f\n",
			f.Timestamp.Seconds(), f.Note, f.Octave, f.CentsFrac, f.Frequency, f.Confidence)
	})
	engine.SubscribeStatus(func(s pitch.CalibrationStatus) {
		switch s.Phase {
		case pitch.CalibrationComplete:
			fmt.Fprintln(os.Stderr, "calibration complete")
		case pitch.CalibrationFailed:
			fmt.Fprintf(os.Stderr, "calibration failed: %s\n", s.Reason)
		}
	})

	if flagCalibrateBlocks > 0 {
		engine.StartCalibration()
	}

	for offset := 0; offset+cfg.BlockSize <= len(samples); offset += cfg.BlockSize {
		block := pitch.SampleBlock{
			Samples:    samples[offset : offset+cfg.BlockSize],
			SampleRate: sampleRate,
			Timestamp:  time.Duration(offset) * time.Second / time.Duration(sampleRate),
		}
		if _, err := engine.Submit(block); err != nil {
			return fmt.Errorf("block at %d: %w", offset, err)
		}
	}
	return nil
}

// loadWAV decodes a WAV file to mono float32 samples, averaging channels.
func loadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%s is not a valid WAV file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decoding %s: %w", path, err)
	}

	floatBuf := buf.AsFloat32Buffer()
	channels := buf.Format.NumChannels
	if channels <= 1 {
		return floatBuf.Data, buf.Format.SampleRate, nil
	}

	mono := &audio.Float32Buffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: buf.Format.SampleRate},
		Data:   make([]float32, len(floatBuf.Data)/channels),
	}
	for i := range mono.Data {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += floatBuf.Data[i*channels+c]
		}
		mono.Data[i] = sum / float32(channels)
	}
	return mono.Data, mono.Format.SampleRate, nil
}
