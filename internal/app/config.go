package app

import (
	"time"

	"github.com/attunehealth/attune-backend/internal/llm"
	"github.com/attunehealth/attune-backend/internal/logger"
	"github.com/attunehealth/attune-backend/internal/utils"
)

type Config struct {
	JWTSecretKey   string
	HTTPPort       string
	RedisAddr      string
	PatientLockTTL time.Duration
	LLM            llm.Config
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	httpPort := utils.GetEnv("PORT", "8080", log)
	redisAddr := utils.GetEnv("REDIS_ADDR", "", log)
	lockTTLSeconds := utils.GetEnvAsInt("PATIENT_LOCK_TTL_SECONDS", 120, log)
	return Config{
		JWTSecretKey:   jwtSecretKey,
		HTTPPort:       httpPort,
		RedisAddr:      redisAddr,
		PatientLockTTL: time.Duration(lockTTLSeconds) * time.Second,
		LLM:            llm.LoadConfig(log),
	}
}
