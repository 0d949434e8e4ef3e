package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var knownFormats = map[string]bool{"height": true, "weight": true}

// Validate checks a defaulted config and reports every problem at once.
func Validate(cfg *Config) error {
	var errs []error

	switch cfg.Service.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("service.log_format: must be json or text, got %q", cfg.Service.LogFormat))
	}
	if cfg.Service.PollInterval <= 0 {
		errs = append(errs, errors.New("service.poll_interval: must be positive"))
	}
	errs = append(errs, validateReconnect("reconnect", cfg.Reconnect)...)

	ids := make(map[string]bool, len(cfg.Sources))
	for i, src := range cfg.Sources {
		where := fmt.Sprintf("sources[%d]", i)
		if src.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if ids[src.ID] {
			errs = append(errs, fmt.Errorf("%s: duplicate id %q", where, src.ID))
		}
		ids[src.ID] = true
		errs = append(errs, validateSource(where, src)...)
		if src.Reconnect != nil {
			errs = append(errs, validateReconnect(where+".reconnect", cfg.EffectiveReconnect(src))...)
		}
	}

	titles := make(map[string]bool, len(cfg.Stations.Table))
	for i, st := range cfg.Stations.Table {
		where := fmt.Sprintf("stations.table[%d]", i)
		if st.Title == "" {
			errs = append(errs, fmt.Errorf("%s: title is required", where))
		} else if titles[st.Title] {
			errs = append(errs, fmt.Errorf("%s: duplicate title %q", where, st.Title))
		}
		titles[st.Title] = true
		if st.Path == "" {
			errs = append(errs, fmt.Errorf("%s: path is required", where))
		}
		if st.Kind != "interpreted" && st.Kind != "native" {
			errs = append(errs, fmt.Errorf("%s: kind must be interpreted or native, got %q", where, st.Kind))
		}
		if st.Digest != "" && len(st.Digest) != 64 {
			errs = append(errs, fmt.Errorf("%s: digest must be 64 hex characters", where))
		}
	}

	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		errs = append(errs, errors.New("journal.path: required when the journal is enabled"))
	}
	if cfg.API.Enabled && cfg.API.Listen == "" {
		errs = append(errs, errors.New("api.listen: required when the api is enabled"))
	}

	if unresolved := findUnresolved(cfg); len(unresolved) > 0 {
		errs = append(errs, fmt.Errorf("unresolved environment variables: %s", strings.Join(unresolved, ", ")))
	}

	return errors.Join(errs...)
}

func validateSource(where string, src SourceConfig) []error {
	var errs []error
	switch src.Type {
	case SourceSerial:
		if src.Device == "" {
			errs = append(errs, fmt.Errorf("%s: device is required for serial sources", where))
		}
		if src.Baud <= 0 {
			errs = append(errs, fmt.Errorf("%s: baud must be positive", where))
		}
		if src.ReadTimeout < 0 || src.ReadTimeout > time.Second {
			errs = append(errs, fmt.Errorf("%s: read_timeout must be between 0 and 1s", where))
		}
		for _, f := range src.Formats {
			if !knownFormats[strings.ToLower(f)] {
				errs = append(errs, fmt.Errorf("%s: unknown format %q", where, f))
			}
		}
	case SourceMQTT:
		if src.Broker == "" {
			errs = append(errs, fmt.Errorf("%s: broker is required for mqtt sources", where))
		}
		if src.Topic == "" {
			errs = append(errs, fmt.Errorf("%s: topic is required for mqtt sources", where))
		}
		if src.Port < 0 || src.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s: port out of range", where))
		}
		if src.QoS < 0 || src.QoS > 2 {
			errs = append(errs, fmt.Errorf("%s: qos must be 0, 1 or 2", where))
		}
	case SourceNATS:
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("%s: url is required for nats sources", where))
		}
		if src.Subject == "" {
			errs = append(errs, fmt.Errorf("%s: subject is required for nats sources", where))
		}
	default:
		errs = append(errs, fmt.Errorf("%s: type must be serial, mqtt or nats, got %q", where, src.Type))
	}
	return errs
}

func validateReconnect(where string, rc ReconnectConfig) []error {
	var errs []error
	if rc.MinDelay <= 0 {
		errs = append(errs, fmt.Errorf("%s.min_delay: must be positive", where))
	}
	if rc.MaxDelay < rc.MinDelay {
		errs = append(errs, fmt.Errorf("%s.max_delay: must be >= min_delay", where))
	}
	if rc.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("%s.failure_threshold: must be at least 1", where))
	}
	return errs
}

// findUnresolved lists ${VAR} placeholders left in string settings.
func findUnresolved(cfg *Config) []string {
	var out []string
	check := func(field, v string) {
		if envVarPattern.MatchString(v) {
			out = append(out, field+"="+v)
		}
	}
	check("api.api_key", cfg.API.APIKey)
	check("stations.base_dir", cfg.Stations.BaseDir)
	for i, src := range cfg.Sources {
		check(fmt.Sprintf("sources[%d].password", i), src.Password)
		check(fmt.Sprintf("sources[%d].token", i), src.Token)
		check(fmt.Sprintf("sources[%d].broker", i), src.Broker)
		check(fmt.Sprintf("sources[%d].url", i), src.URL)
		check(fmt.Sprintf("sources[%d].device", i), src.Device)
	}
	for k, v := range cfg.Environment {
		check("environment."+k, v)
	}
	return out
}
