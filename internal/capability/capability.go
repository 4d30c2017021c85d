package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"storyreel/internal/execx"
)

const profileTTL = 24 * time.Hour

// GraphicsBackend reports whether the alpha-capable overlay render path can
// use GPU-assisted filtering or must stay on the CPU.
type GraphicsBackend string

const (
	GraphicsHardware GraphicsBackend = "hardware"
	GraphicsSoftware GraphicsBackend = "software"
)

// CodecFamily groups encoder candidates by codec in priority order. The last
// entry in each family is the software fallback and is assumed to always work.
type CodecFamily struct {
	Name   string
	Codecs []string
}

// Families lists the supported encoder families. Hardware candidates come
// first; libx264/libx265 close each list.
var Families = []CodecFamily{
	{"h264", []string{"h264_videotoolbox", "h264_nvenc", "h264_amf", "libx264"}},
	{"h265", []string{"hevc_videotoolbox", "hevc_nvenc", "hevc_amf", "libx265"}},
}

// Capability is the memoized result of probing the host.
type Capability struct {
	EncoderByFamily map[string]string `json:"encoder_by_family"`
	Graphics        GraphicsBackend   `json:"graphics"`
	Parallelism     int               `json:"parallelism"`
	Hostname        string            `json:"hostname"`
	GOOS            string            `json:"goos"`
	ProbedAt        time.Time         `json:"probed_at"`
}

// EncoderFor returns the probed encoder for a codec family name, falling back
// to the family's software encoder for unknown input.
func (c Capability) EncoderFor(codec string) string {
	if enc, ok := c.EncoderByFamily[codec]; ok && enc != "" {
		return enc
	}
	for _, family := range Families {
		if family.Name == codec {
			return family.Codecs[len(family.Codecs)-1]
		}
	}
	return "libx264"
}

// HardwareEncoder reports whether the selected encoder for the codec is a
// hardware path.
func (c Capability) HardwareEncoder(codec string) bool {
	enc := c.EncoderFor(codec)
	return enc != "libx264" && enc != "libx265"
}

// Detector probes the host once per process and persists the result so later
// invocations on the same machine skip the probe entirely.
type Detector struct {
	FFmpegPath  string
	Runner      execx.Runner
	ProfilePath string

	once sync.Once
	cap  Capability
}

// Detect returns the host capability. Probe errors are swallowed: any
// candidate that fails is simply unavailable, and the software fallback is
// always selected when nothing else works.
func (d *Detector) Detect(ctx context.Context) Capability {
	d.once.Do(func() {
		if cached := d.loadProfile(); cached != nil {
			d.cap = *cached
			return
		}
		d.cap = d.probe(ctx)
		d.saveProfile(d.cap)
	})
	return d.cap
}

// Refresh discards the persisted profile so the next Detect on a fresh
// Detector re-probes.
func (d *Detector) Refresh() error {
	if d.ProfilePath == "" {
		return nil
	}
	if err := os.Remove(d.ProfilePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *Detector) probe(ctx context.Context) Capability {
	hostname, _ := os.Hostname()
	cap := Capability{
		EncoderByFamily: make(map[string]string, len(Families)),
		Graphics:        GraphicsSoftware,
		Hostname:        hostname,
		GOOS:            runtime.GOOS,
		ProbedAt:        time.Now().UTC(),
	}

	runner := d.runner()
	for _, family := range Families {
		selected := family.Codecs[len(family.Codecs)-1]
		for _, codec := range family.Codecs {
			if d.testEncoder(ctx, runner, codec) {
				selected = codec
				break
			}
		}
		cap.EncoderByFamily[family.Name] = selected
	}

	if d.testAlphaPath(ctx, runner) {
		cap.Graphics = GraphicsHardware
	}

	cap.Parallelism = recommendParallelism(cap.HardwareEncoder("h264"))
	return cap
}

// testEncoder encodes a single synthetic frame with the candidate. Any
// failure means the encoder is unusable on this host.
func (d *Detector) testEncoder(ctx context.Context, runner execx.Runner, codec string) bool {
	args := []string{
		"-hide_banner",
		"-f", "lavfi",
		"-i", "color=black:s=64x64:d=1:r=1",
		"-c:v", codec,
		"-frames:v", "1",
		"-f", "null",
		"-",
	}
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := runner.Run(probeCtx, d.ffmpeg(), args, execx.RunOptions{})
	return err == nil
}

// testAlphaPath verifies the filter chain used by animated overlays (alpha
// pixel format through qtrle) works end to end.
func (d *Detector) testAlphaPath(ctx context.Context, runner execx.Runner) bool {
	args := []string{
		"-hide_banner",
		"-f", "lavfi",
		"-i", "color=black@0.0:s=64x64:d=1:r=1,format=yuva420p",
		"-c:v", "qtrle",
		"-frames:v", "1",
		"-f", "null",
		"-",
	}
	probeCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := runner.Run(probeCtx, d.ffmpeg(), args, execx.RunOptions{})
	return err == nil
}

func (d *Detector) loadProfile() *Capability {
	if d.ProfilePath == "" {
		return nil
	}
	data, err := os.ReadFile(d.ProfilePath)
	if err != nil {
		return nil
	}
	var cap Capability
	if err := json.Unmarshal(data, &cap); err != nil {
		return nil
	}
	if time.Since(cap.ProbedAt) > profileTTL {
		return nil
	}
	hostname, _ := os.Hostname()
	if cap.GOOS != runtime.GOOS || cap.Hostname != hostname {
		return nil
	}
	if len(cap.EncoderByFamily) == 0 || cap.Parallelism < 1 {
		return nil
	}
	return &cap
}

func (d *Detector) saveProfile(cap Capability) {
	if d.ProfilePath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(d.ProfilePath), 0o755); err != nil {
		return
	}
	data, err := json.MarshalIndent(cap, "", "  ")
	if err != nil {
		return
	}
	tmp := d.ProfilePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return
	}
	_ = os.Rename(tmp, d.ProfilePath)
}

func (d *Detector) ffmpeg() string {
	if d.FFmpegPath != "" {
		return d.FFmpegPath
	}
	return "ffmpeg"
}

func (d *Detector) runner() execx.Runner {
	if d.Runner != nil {
		return d.Runner
	}
	return execx.CmdRunner{}
}

func recommendParallelism(hardware bool) int {
	if hardware {
		return 2
	}
	n := runtime.NumCPU() / 2
	if n < 1 {
		n = 1
	}
	if n > 4 {
		n = 4
	}
	return n
}

// FFmpegPath resolves the ffmpeg binary, honoring the STORYREEL_FFMPEG
// override before consulting PATH.
func FFmpegPath() string {
	if path := os.Getenv("STORYREEL_FFMPEG"); path != "" {
		return path
	}
	return "ffmpeg"
}

// String renders a one-line summary for logs and the detect command.
func (c Capability) String() string {
	return fmt.Sprintf("h264=%s h265=%s graphics=%s parallelism=%d",
		c.EncoderFor("h264"), c.EncoderFor("h265"), c.Graphics, c.Parallelism)
}
