package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/a2cb/cbhv/pkg/box"
	"github.com/a2cb/cbhv/pkg/calibration"
	"github.com/a2cb/cbhv/pkg/session"
	"github.com/a2cb/cbhv/pkg/utils/ptr"
)

const (
	DefaultCorrectionFile = "HV_gains_offsets.txt"
	DefaultLockFileName   = "cbhv.lock"
)

var (
	defaultFileConfig = &RawFileConfig{
		HostTemplate:   ptr.To(box.DefaultHostTemplate),
		Port:           ptr.To(session.DefaultPort),
		CorrectionFile: ptr.To(DefaultCorrectionFile),
		// One box at a time, like the operators are used to.
		Parallelism: ptr.To(1),
		LockFile:    ptr.To(filepath.Join(os.TempDir(), DefaultLockFileName)),
		Timeouts: &RawTimeouts{
			Dial:    ptr.To(5 * time.Second),
			Banner:  ptr.To(10 * time.Second),
			Command: ptr.To(10 * time.Second),
			Persist: ptr.To(box.DefaultPersistTimeout),
		},
		SettleDelay: ptr.To(time.Second),
		Calibration: &RawCalibration{
			OutputDir:   ptr.To(calibration.DefaultOutputDir),
			FileName:    ptr.To(calibration.DefaultFileName),
			Stepping:    ptr.To(calibration.DefaultStepping),
			RangeMin:    ptr.To(calibration.DefaultRangeMin),
			RangeMax:    ptr.To(calibration.DefaultRangeMax),
			WaitingTime: ptr.To(calibration.DefaultWaitingTime),
		},
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

// RawFileConfig is the file representation. Nil fields fall back to the
// defaults.
type RawFileConfig struct {
	HostTemplate   *string         `yaml:"hostTemplate,omitempty"`
	Port           *int            `yaml:"port,omitempty"`
	Boxes          []int           `yaml:"boxes,omitempty"`
	CorrectionFile *string         `yaml:"correctionFile,omitempty"`
	Parallelism    *int            `yaml:"parallelism,omitempty"`
	LockFile       *string         `yaml:"lockFile,omitempty"`
	Timeouts       *RawTimeouts    `yaml:"timeouts,omitempty"`
	SettleDelay    *time.Duration  `yaml:"settleDelay,omitempty"`
	Calibration    *RawCalibration `yaml:"calibration,omitempty"`
}

type RawTimeouts struct {
	Dial    *time.Duration `yaml:"dial,omitempty"`
	Banner  *time.Duration `yaml:"banner,omitempty"`
	Command *time.Duration `yaml:"command,omitempty"`
	Persist *time.Duration `yaml:"persist,omitempty"`
}

type RawCalibration struct {
	OutputDir   *string        `yaml:"outputDir,omitempty"`
	FileName    *string        `yaml:"fileName,omitempty"`
	Stepping    *int           `yaml:"stepping,omitempty"`
	RangeMin    *int           `yaml:"rangeMin,omitempty"`
	RangeMax    *int           `yaml:"rangeMax,omitempty"`
	WaitingTime *time.Duration `yaml:"waitingTime,omitempty"`
}

// NewRawFileConfigFromConfig returns the fully resolved file
// representation of c.
func NewRawFileConfigFromConfig(c Config) (*RawFileConfig, error) {
	if c == nil {
		return nil, pkgerrors.New("config is nil")
	}

	cal := c.Calibration()
	dir, name := filepath.Split(cal.OutputPattern)

	rawConfig := &RawFileConfig{
		HostTemplate:   ptr.To(c.HostTemplate()),
		Port:           ptr.To(c.Port()),
		Boxes:          c.Boxes(),
		CorrectionFile: ptr.To(c.CorrectionFile()),
		Parallelism:    ptr.To(c.Parallelism()),
		LockFile:       ptr.To(c.LockFile()),
		Timeouts: &RawTimeouts{
			Dial:    ptr.To(c.DialTimeout()),
			Banner:  ptr.To(c.BannerTimeout()),
			Command: ptr.To(c.CommandTimeout()),
			Persist: ptr.To(c.PersistTimeout()),
		},
		SettleDelay: ptr.To(c.SettleDelay()),
		Calibration: &RawCalibration{
			OutputDir:   ptr.To(filepath.Clean(dir)),
			FileName:    ptr.To(name),
			Stepping:    ptr.To(cal.Stepping),
			RangeMin:    ptr.To(cal.RangeMin),
			RangeMax:    ptr.To(cal.RangeMax),
			WaitingTime: ptr.To(cal.WaitingTime),
		},
	}

	return rawConfig, nil
}

func (f *File) read() *RawFileConfig {
	if f.c == nil {
		panic("config is nil")
	}
	return f.c
}

func (f *File) HostTemplate() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().HostTemplate, *defaultFileConfig.HostTemplate)
}

func (f *File) Port() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().Port, *defaultFileConfig.Port)
}

// Boxes returns the configured box indices, or all boxes of the
// installation.
func (f *File) Boxes() []int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if boxes := f.read().Boxes; len(boxes) > 0 {
		return slices.Clone(boxes)
	}
	return box.DefaultIndices()
}

func (f *File) CorrectionFile() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().CorrectionFile, *defaultFileConfig.CorrectionFile)
}

func (f *File) Parallelism() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().Parallelism, *defaultFileConfig.Parallelism)
}

func (f *File) LockFile() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().LockFile, *defaultFileConfig.LockFile)
}

func (f *File) timeouts() *RawTimeouts {
	if t := f.read().Timeouts; t != nil {
		return t
	}
	return &RawTimeouts{}
}

func (f *File) DialTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.timeouts().Dial, *defaultFileConfig.Timeouts.Dial)
}

func (f *File) BannerTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.timeouts().Banner, *defaultFileConfig.Timeouts.Banner)
}

func (f *File) CommandTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.timeouts().Command, *defaultFileConfig.Timeouts.Command)
}

func (f *File) PersistTimeout() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.timeouts().Persist, *defaultFileConfig.Timeouts.Persist)
}

func (f *File) SettleDelay() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return ptr.Deref(f.read().SettleDelay, *defaultFileConfig.SettleDelay)
}

// Calibration returns the measurement settings. The output pattern joins
// the output directory and the file name pattern.
func (f *File) Calibration() calibration.Settings {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c := f.read().Calibration
	if c == nil {
		c = &RawCalibration{}
	}
	def := defaultFileConfig.Calibration

	return calibration.Settings{
		OutputPattern: filepath.Join(ptr.Deref(c.OutputDir, *def.OutputDir), ptr.Deref(c.FileName, *def.FileName)),
		RangeMin:      ptr.Deref(c.RangeMin, *def.RangeMin),
		RangeMax:      ptr.Deref(c.RangeMax, *def.RangeMax),
		Stepping:      ptr.Deref(c.Stepping, *def.Stepping),
		WaitingTime:   ptr.Deref(c.WaitingTime, *def.WaitingTime),
	}
}

func (f *File) SetHostTemplate(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().HostTemplate = &s
}

func (f *File) SetPort(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().Port = &i
}

func (f *File) SetBoxes(boxes []int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().Boxes = slices.Clone(boxes)
}

func (f *File) SetCorrectionFile(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().CorrectionFile = &s
}

func (f *File) SetParallelism(i int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().Parallelism = &i
}

func (f *File) SetLockFile(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().LockFile = &s
}

func (f *File) SetCalibration(s calibration.Settings) {
	dir, name := filepath.Split(s.OutputPattern)
	if dir == "" {
		dir = "."
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.read().Calibration = &RawCalibration{
		OutputDir:   ptr.To(filepath.Clean(dir)),
		FileName:    ptr.To(name),
		Stepping:    ptr.To(s.Stepping),
		RangeMin:    ptr.To(s.RangeMin),
		RangeMax:    ptr.To(s.RangeMax),
		WaitingTime: ptr.To(s.WaitingTime),
	}
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filepath == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		// If the file is empty, return the empty config.
		// Do not make f.c a nil.
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	err = dec.Decode(&conf)
	if err != nil && !errors.Is(err, io.EOF) {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}
	if f.filepath == "" {
		return pkgerrors.New("config has no file path")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := yaml.NewEncoder(fp)
	enc.SetIndent(2)
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return enc.Close()
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"hostTemplate":   f.HostTemplate(),
		"port":           f.Port(),
		"boxes":          f.Boxes(),
		"correctionFile": f.CorrectionFile(),
		"parallelism":    f.Parallelism(),
		"lockFile":       f.LockFile(),
		"dialTimeout":    f.DialTimeout(),
		"commandTimeout": f.CommandTimeout(),
		"persistTimeout": f.PersistTimeout(),
		"settleDelay":    f.SettleDelay(),
	}
}
