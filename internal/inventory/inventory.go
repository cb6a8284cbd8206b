// Package inventory: статический реестр устройств, обогащающий контекст оценки.
package inventory

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/xela07ax/netops-governor/internal/domain"
)

var ErrUnknownDevice = errors.New("inventory: unknown device")

// Device — запись реестра.
type Device struct {
	Site        string   `yaml:"site"`
	Role        string   `yaml:"role"`
	Tags        []string `yaml:"tags"`
	Criticality float64  `yaml:"criticality"`
}

type fileFormat struct {
	Devices map[string]Device `yaml:"devices"`
}

// Static отдает данные из YAML-файла, загруженного один раз при старте.
type Static struct {
	devices map[string]Device
	logger  *zap.Logger
}

func LoadFile(path string, logger *zap.Logger) (*Static, error) {
	// #nosec G304 -- путь задается конфигурацией оператора
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("inventory: read %s: %w", path, err)
	}
	return Parse(data, logger)
}

func Parse(data []byte, logger *zap.Logger) (*Static, error) {
	var f fileFormat
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("inventory: decode: %w", err)
	}
	devices := make(map[string]Device, len(f.Devices))
	for name, d := range f.Devices {
		if d.Criticality < 0 || d.Criticality > 1 {
			return nil, fmt.Errorf("inventory: device %s: criticality %v is outside [0,1]", name, d.Criticality)
		}
		devices[strings.ToLower(strings.TrimSpace(name))] = d
	}
	return &Static{devices: devices, logger: logger.Named("inventory")}, nil
}

// Enrich сводит данные по всем целям запроса. Критичность берется максимальная,
// теги объединяются, site и role берутся у самого критичного устройства.
// Хотя бы одно неизвестное устройство дает ошибку: движок перейдет к консервативным значениям.
func (s *Static) Enrich(_ context.Context, req domain.EvaluationRequest) (map[string]any, error) {
	if len(req.DeviceTargets) == 0 {
		return nil, nil
	}

	var (
		top   Device
		found bool
		tags  = make(map[string]struct{})
	)
	for _, target := range req.DeviceTargets {
		d, ok := s.devices[strings.ToLower(strings.TrimSpace(target))]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, target)
		}
		if !found || d.Criticality > top.Criticality {
			top, found = d, true
		}
		for _, t := range d.Tags {
			tags[t] = struct{}{}
		}
	}

	facts := map[string]any{domain.ContextDeviceCriticality: top.Criticality}
	if top.Site != "" {
		facts[domain.ContextSite] = top.Site
	}
	if top.Role != "" {
		facts[domain.ContextDeviceRole] = top.Role
	}
	if len(tags) > 0 {
		list := make([]string, 0, len(tags))
		for t := range tags {
			list = append(list, t)
		}
		sort.Strings(list)
		facts[domain.ContextDeviceTags] = list
	}

	s.logger.Debug("request enriched",
		zap.String("tool", req.ToolName),
		zap.Int("devices", len(req.DeviceTargets)),
		zap.Float64("criticality", top.Criticality),
	)
	return facts, nil
}

func (s *Static) Len() int { return len(s.devices) }
