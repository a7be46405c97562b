package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/skypro1111/audiologger/internal/audio"
)

// inspect prints the format, duration and markers of a saved recording
func inspect(w io.Writer, path string) error {
	wav, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}

	f := wav.Format
	if err := f.Validate(); err != nil {
		return fmt.Errorf("unsupported format: %w", err)
	}
	frames := wav.Frames()
	fmt.Fprintf(w, "File:     %s\n", path)
	fmt.Fprintf(w, "Format:   %d ch, %d-bit, %d Hz\n", f.Channels, f.BitsPerSample(), f.SampleRate)
	fmt.Fprintf(w, "Duration: %.3fs (%d frames)\n", f.DurationOf(frames).Seconds(), frames)
	fmt.Fprintf(w, "Markers:  %d\n", len(wav.Cues))
	if len(wav.Cues) == 0 {
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSAMPLE\tTIME\tLABEL")
	for _, c := range wav.Cues {
		at := f.DurationOf(int64(c.SampleOffset))
		fmt.Fprintf(tw, "%d\t%d\t%s\t%s\n", c.ID, c.SampleOffset, formatOffset(at), c.Label)
	}
	return tw.Flush()
}

func formatOffset(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
