package configuration

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type (
	Properties struct {
		LogLevel string `env:"LOG_LEVEL" envDefault:"DEBUG"`

		Auth     AuthProperties       `envPrefix:"AUTH_"`
		S3       S3Properties         `envPrefix:"S3_"`
		Server   HttpServerProperties `envPrefix:"HTTP_"`
		MLServer MLServerProperties   `envPrefix:"ML_"`
		DB       DBProperties         `envPrefix:"DB_"`
	}

	AuthProperties struct {
		Host                   string        `env:"HOST" envDefault:"http://localhost:9999"`
		ID                     string        `env:"ID"`
		Secret                 string        `env:"SECRET"`
		Redirect               string        `env:"REDIRECT_URL" envDefault:"http://localhost:8088/callback"`
		AccessTokenCookieName  string        `env:"ACCESS_COOKIE" envDefault:"dl_access_token"`
		RefreshTokenCookieName string        `env:"REFRESH_COOKIE" envDefault:"dl_refresh_token"`
		IDTokenCookieName      string        `env:"ID_COOKIE" envDefault:"dl_id_token"`
		ReadTimeout            time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	}

	HttpServerProperties struct {
		Name        string        `env:"NAME" envDefault:"dermalyze"`
		Port        string        `env:"PORT" envDefault:"8088"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"60s"`
		CorsOrigins []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
		Debug       bool          `env:"DEBUG" envDefault:"false"`
	}

	// MLServerProperties points at the external classification endpoint.
	// Host may legitimately be empty: only classification attempts fail then.
	MLServerProperties struct {
		Host           string        `env:"API_BASE"`
		ReadTimeout    time.Duration `env:"READ_TIMEOUT" envDefault:"120s"`
		ProcessDelayMs int           `env:"PROCESS_DELAY_MS" envDefault:"350"`
	}

	S3Properties struct {
		Host        string        `env:"HOST" envDefault:"s3.minio.local:9000"`
		AccessKey   string        `env:"ACCESS_KEY"`
		SecretKey   string        `env:"SECRET_KEY"`
		Bucket      string        `env:"BUCKET" envDefault:"analysis-images"`
		UseSSL      bool          `env:"USE_SSL" envDefault:"true"`
		ReadTimeout time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	}

	DBProperties struct {
		Path     string `env:"PATH" envDefault:"dermalyze.db"`
		PageSize int    `env:"PAGE_SIZE" envDefault:"20"`
	}
)

func ReadProperties() *Properties {
	config := &Properties{}

	if err := env.Parse(config); err != nil {
		panic(fmt.Errorf("read config error: %w", err))
	}
	return config
}
