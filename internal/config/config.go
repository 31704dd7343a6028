package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации приложения.

type Config struct {
	Replication ReplicationConfig `yaml:"replication"`
	EventBus    EventBusConfig    `yaml:"eventbus"`
	Server      ServerConfig      `yaml:"server"`
}

// ReplicationConfig задаёт параметры протокола репликации поз.
// Нулевые значения означают «использовать дефолт» (см. геттеры).
type ReplicationConfig struct {
	QuantizationRatio float64 `yaml:"quantization_ratio"` // юнитов на метр, 50 → ±655.34 м при 2 см точности
	PosThreshold      float64 `yaml:"pos_threshold"`      // порог дистанции для dirty, в мировых единицах
	RotThreshold      float64 `yaml:"rot_threshold"`      // порог поворота для dirty, в градусах
	SyncDistance      float64 `yaml:"sync_distance"`      // радиус AOI, в мировых единицах
	BatchCap          int     `yaml:"batch_cap"`          // лимит записей на исходящее сообщение
	TickRateHz        int     `yaml:"tick_rate_hz"`       // частота тиков рассылки
}

type EventBusConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Mirror    bool   `yaml:"mirror_batches"` // зеркалирование батчей в шину для других узлов
}

type ServerConfig struct {
	KCPPort  int `yaml:"kcp_port"`
	RESTPort int `yaml:"rest_port"`
}

// GetQuantizationRatio возвращает коэффициент квантизации позиций
func (r *ReplicationConfig) GetQuantizationRatio() float64 {
	if r.QuantizationRatio > 0 {
		return r.QuantizationRatio
	}
	return 50.0
}

// GetPosThreshold возвращает порог позиции для change-детектора
func (r *ReplicationConfig) GetPosThreshold() float64 {
	if r.PosThreshold > 0 {
		return r.PosThreshold
	}
	return 0.05
}

// GetRotThreshold возвращает порог поворота для change-детектора
func (r *ReplicationConfig) GetRotThreshold() float64 {
	if r.RotThreshold > 0 {
		return r.RotThreshold
	}
	return 1.0
}

// GetSyncDistance возвращает радиус области интереса наблюдателя
func (r *ReplicationConfig) GetSyncDistance() float64 {
	if r.SyncDistance > 0 {
		return r.SyncDistance
	}
	return 30.0
}

// GetBatchCap возвращает лимит записей на сообщение
func (r *ReplicationConfig) GetBatchCap() int {
	if r.BatchCap > 0 {
		return r.BatchCap
	}
	return 100
}

// GetTickRateHz возвращает частоту тиков рассылки
func (r *ReplicationConfig) GetTickRateHz() int {
	if r.TickRateHz > 0 {
		return r.TickRateHz
	}
	return 20
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "REPL_KCP_PORT", 7779)
}

// GetRESTPort возвращает REST/metrics порт с поддержкой fallback значений
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "REPL_REST_PORT", 8090)
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV REPL_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPL_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
