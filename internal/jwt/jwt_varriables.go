package jwt

import (
	"time"

	"support-chat-backend/internal/env"

	"github.com/go-redis/redis/v8"
)

var (
	CUSTOMER_SECRET string
	STAFF_SECRET    string
	RedisClient     *redis.Client
)

const RefreshTokenTTL = 24 * 30 * time.Hour

const (
	RoleCustomer Role = iota
	RoleStaff
)

var RoleSecrets = map[Role]string{}

func init() {
	CUSTOMER_SECRET = env.Get(env.CustomerSecretKey)
	STAFF_SECRET = env.Get(env.StaffSecretKey)

	RoleSecrets[RoleCustomer] = CUSTOMER_SECRET
	RoleSecrets[RoleStaff] = STAFF_SECRET

	RedisClient = redis.NewClient(&redis.Options{
		Addr:     env.Get(env.AuthRedisURL),
		Password: env.Get(env.AuthRedisPass),
		DB:       0,
	})
}

// SetRoleSecret overrides a role secret. Tests use it; production secrets
// come from the environment at init.
func SetRoleSecret(role Role, secret string) {
	RoleSecrets[role] = secret
}
