package main

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mattjoyce/medkiosk/internal/config"
	"github.com/mattjoyce/medkiosk/internal/conn"
	"github.com/mattjoyce/medkiosk/internal/controller"
	"github.com/mattjoyce/medkiosk/internal/decode"
	"github.com/mattjoyce/medkiosk/internal/station"
	"github.com/mattjoyce/medkiosk/internal/transport"
)

// buildStations turns the configured table into a dispatcher.
func buildStations(cfg *config.Config, logger *slog.Logger) (*station.Dispatcher, error) {
	table := make([]station.Descriptor, 0, len(cfg.Stations.Table))
	for _, st := range cfg.Stations.Table {
		table = append(table, station.Descriptor{
			Title:    st.Title,
			ExecPath: st.Path,
			Kind:     station.Kind(st.Kind),
			Digest:   st.Digest,
		})
	}
	return station.NewDispatcher(table, station.Options{
		BaseDir:     cfg.Stations.BaseDir,
		Interpreter: cfg.Stations.Interpreter,
		Env:         cfg.Environment,
	}, nil, logger)
}

// buildSources creates one unopened source per configured entry. Pushed
// sources post their callbacks to h.
func buildSources(cfg *config.Config, h *transport.Handoff, logger *slog.Logger) ([]controller.Source, error) {
	out := make([]controller.Source, 0, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		rc := cfg.EffectiveReconnect(sc)
		src := controller.Source{
			Reconnect: conn.Options{
				MinDelay:         rc.MinDelay,
				MaxDelay:         rc.MaxDelay,
				FailureThreshold: rc.FailureThreshold,
			},
		}

		switch sc.Type {
		case config.SourceSerial:
			formats, err := lineFormats(sc)
			if err != nil {
				return nil, err
			}
			s, err := transport.NewSerialSource(transport.SerialConfig{
				ID:          sc.ID,
				Device:      sc.Device,
				Baud:        sc.Baud,
				ReadTimeout: sc.ReadTimeout,
			})
			if err != nil {
				return nil, err
			}
			src.ReadingSource = s
			src.Formats = formats
		case config.SourceMQTT:
			s, err := transport.NewMQTTSource(transport.MQTTConfig{
				ID:        sc.ID,
				Broker:    sc.Broker,
				Port:      sc.Port,
				Topic:     sc.Topic,
				QoS:       byte(sc.QoS),
				ClientID:  sc.ClientID,
				Username:  sc.Username,
				Password:  sc.Password,
				KeepAlive: sc.KeepAlive,
			}, h, logger)
			if err != nil {
				return nil, err
			}
			src.ReadingSource = s
		case config.SourceNATS:
			s, err := transport.NewNATSSource(transport.NATSConfig{
				ID:      sc.ID,
				URL:     sc.URL,
				Subject: sc.Subject,
				Token:   sc.Token,
			}, h, logger)
			if err != nil {
				return nil, err
			}
			src.ReadingSource = s
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", sc.ID, sc.Type)
		}

		if sc.HeartRateSeed != nil {
			src.HeartRate = decode.RandomSteps(*sc.HeartRateSeed)
		}
		out = append(out, src)
	}
	return out, nil
}

func lineFormats(sc config.SourceConfig) ([]decode.LineFormat, error) {
	known := decode.LineFormats()
	formats := make([]decode.LineFormat, 0, len(sc.Formats))
	for _, name := range sc.Formats {
		f, ok := known[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, fmt.Errorf("source %s: unknown serial format %q", sc.ID, name)
		}
		formats = append(formats, f)
	}
	return formats, nil
}

// redacted returns a copy of cfg with credentials masked for display.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	out.SourceFiles = nil
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.API.APIKey = mask(cfg.API.APIKey)
	out.Sources = make([]config.SourceConfig, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		sc.Password = mask(sc.Password)
		sc.Token = mask(sc.Token)
		out.Sources[i] = sc
	}
	return out
}

func formatAge(d time.Duration) string {
	return d.Truncate(time.Second).String()
}
