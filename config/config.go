package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var (
	// 核心配置（环境变量）
	DataRoot      string // 数据根目录
	HTTPPort      string // 服务端口
	BotCloudToken string // 鉴权令牌
	LogLevel      string // 日志级别

	MaxArchiveBytes int64         // 上传包大小上限
	StopGrace       time.Duration // SIGTERM 之后等待多久升级为 SIGKILL
	HistoryLimit    int           // WebSocket 订阅时回放的日志条数
	FetchLimit      int           // GET /logs 默认条数
	InstallCmd      []string      // 默认安装命令
	RunCmd          []string      // 默认启动命令
	ExpiryInterval  time.Duration // 过期扫描间隔
)

// 派生路径（基于 DataRoot）
var (
	LogFile     string // $DATA_ROOT/log/botcloud.log
	DBFile      string // $DATA_ROOT/db/botcloud.db
	DeployDir   string // $DATA_ROOT/deployments/
	CertsDir    string // $DATA_ROOT/certs/
	CertFile    string // $DATA_ROOT/certs/cert.pem
	KeyFile     string // $DATA_ROOT/certs/key.pem
	HTTPSConfig string // $DATA_ROOT/https.yaml
)

func init() {
	// .env 可选，缺失时直接使用真实环境变量
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env: %v", err)
	}
	Load()
}

// Load 从环境变量重新读取配置（测试中修改环境变量后可再次调用）
func Load() {
	DataRoot = getEnv("BOTCLOUD_DATA_ROOT", "data")
	HTTPPort = getEnv("BOTCLOUD_HTTP_PORT", "5000")
	BotCloudToken = os.Getenv("BOTCLOUD_TOKEN")
	LogLevel = getEnv("BOTCLOUD_LOG_LEVEL", "info")

	MaxArchiveBytes = int64(getEnvInt("BOTCLOUD_MAX_ARCHIVE_MB", 50)) * 1024 * 1024
	StopGrace = getEnvDuration("BOTCLOUD_STOP_GRACE", 3*time.Second)
	HistoryLimit = getEnvInt("BOTCLOUD_HISTORY_LIMIT", 1000)
	FetchLimit = getEnvInt("BOTCLOUD_FETCH_LIMIT", 500)
	InstallCmd = strings.Fields(getEnv("BOTCLOUD_INSTALL_CMD", "npm install"))
	RunCmd = strings.Fields(getEnv("BOTCLOUD_RUN_CMD", "npm start"))
	ExpiryInterval = getEnvDuration("BOTCLOUD_EXPIRY_INTERVAL", time.Minute)

	SetDataRoot(DataRoot)
}

// SetDataRoot 修改数据根目录并重新计算派生路径
func SetDataRoot(root string) {
	DataRoot = root
	LogFile = filepath.Join(root, "log", "botcloud.log")
	DBFile = filepath.Join(root, "db", "botcloud.db")
	DeployDir = filepath.Join(root, "deployments")
	CertsDir = filepath.Join(root, "certs")
	CertFile = filepath.Join(CertsDir, "cert.pem")
	KeyFile = filepath.Join(CertsDir, "key.pem")
	HTTPSConfig = filepath.Join(root, "https.yaml")
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: invalid %s=%q, using %d", key, v, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("Warning: invalid %s=%q, using %s", key, v, defaultValue)
		return defaultValue
	}
	return d
}
