// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 汇总所有服务共享的基础设施配置。
// 先读 YAML 文件（CONFIG_FILE 指定，可选），再用环境变量覆盖，
// 保证容器环境下无文件也能启动。
type Config struct {
	LogLevel string `yaml:"logLevel"`

	Infra struct {
		MysqlDSN       string `yaml:"mysqlDsn"`
		RedisAddrs     string `yaml:"redisAddrs"`
		KafkaBrokers   string `yaml:"kafkaBrokers"`
		JaegerEndpoint string `yaml:"jaegerEndpoint"`
		ZookeeperAddrs string `yaml:"zookeeperAddrs"`
	} `yaml:"infra"`

	Nacos struct {
		ServerAddrs string `yaml:"serverAddrs"`
		Namespace   string `yaml:"namespace"`
		Group       string `yaml:"group"`
	} `yaml:"nacos"`

	Lifecycle struct {
		// 待支付订单的支付期限，超过后由超时检查转为 TIMEOUT/取消
		PaymentExpiry time.Duration `yaml:"paymentExpiry"`
		// Guard 锁的 TTL，必须大于单次 saga 步骤的预期耗时
		LockTTL time.Duration `yaml:"lockTtl"`
		// Guard 锁的最长等待时间，超过返回 LockTimeout
		LockWait time.Duration `yaml:"lockWait"`
	} `yaml:"lifecycle"`
}

var (
	configOnce sync.Once
	current    *Config
)

// GetCurrentConfig 返回进程级配置，首次调用时加载。
func GetCurrentConfig() *Config {
	configOnce.Do(func() {
		current = loadConfig()
	})
	return current
}

func loadConfig() *Config {
	cfg := &Config{}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(raw, cfg)
		}
	}

	// 环境变量覆盖，保持与旧部署脚本兼容的命名
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Infra.MysqlDSN = getEnv("MYSQL_DSN", defaultStr(cfg.Infra.MysqlDSN, "root:root@tcp(localhost:3306)/meridian?charset=utf8mb4&parseTime=True&loc=Local"))
	cfg.Infra.RedisAddrs = getEnv("REDIS_ADDRS", defaultStr(cfg.Infra.RedisAddrs, "localhost:6379"))
	cfg.Infra.KafkaBrokers = getEnv("KAFKA_BROKERS", defaultStr(cfg.Infra.KafkaBrokers, "localhost:9092"))
	cfg.Infra.JaegerEndpoint = getEnv("JAEGER_ENDPOINT", defaultStr(cfg.Infra.JaegerEndpoint, "http://localhost:14268/api/traces"))
	cfg.Infra.ZookeeperAddrs = getEnv("ZOOKEEPER_ADDRS", cfg.Infra.ZookeeperAddrs)
	cfg.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", cfg.Nacos.ServerAddrs)
	cfg.Nacos.Namespace = getEnv("NACOS_NAMESPACE", cfg.Nacos.Namespace)
	cfg.Nacos.Group = getEnv("NACOS_GROUP", defaultStr(cfg.Nacos.Group, "DEFAULT_GROUP"))

	if cfg.Lifecycle.PaymentExpiry <= 0 {
		cfg.Lifecycle.PaymentExpiry = 30 * time.Minute
	}
	if cfg.Lifecycle.LockTTL <= 0 {
		cfg.Lifecycle.LockTTL = 30 * time.Second
	}
	if cfg.Lifecycle.LockWait <= 0 {
		cfg.Lifecycle.LockWait = 3 * time.Second
	}
	return cfg
}

// KafkaBrokerList 返回切分好的 broker 列表。
func (c *Config) KafkaBrokerList() []string {
	return strings.Split(c.Infra.KafkaBrokers, ",")
}

// ZookeeperAddrList 返回切分好的 Zookeeper 地址列表，未配置时为空。
func (c *Config) ZookeeperAddrList() []string {
	if c.Infra.ZookeeperAddrs == "" {
		return nil
	}
	return strings.Split(c.Infra.ZookeeperAddrs, ",")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func defaultStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
