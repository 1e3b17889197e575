package logger

import (
	"time"

	"go.uber.org/zap"
)

// HTTP fields.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }

func Method(v string) zap.Field { return zap.String("method", v) }

func Path(v string) zap.Field { return zap.String("path", v) }

func Status(v int) zap.Field { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func ClientIP(v string) zap.Field { return zap.String("client_ip", v) }

// Broker fields.

// Subject is the upstream provider's stable user id (the "sub" claim).
func Subject(v string) zap.Field { return zap.String("subject", v) }

func ClientID(v string) zap.Field { return zap.String("client_id", v) }

func RedirectURI(v string) zap.Field { return zap.String("redirect_uri", v) }

func ServiceName(v string) zap.Field { return zap.String("service_name", v) }

func GrantType(v string) zap.Field { return zap.String("grant_type", v) }

// System fields.

func Component(v string) zap.Field { return zap.String("component", v) }

func Op(v string) zap.Field { return zap.String("op", v) }

// Layer is "controller", "service" or "client".
func Layer(v string) zap.Field { return zap.String("layer", v) }

func Err(err error) zap.Field { return zap.Error(err) }

// Generic fields.

func String(key, v string) zap.Field { return zap.String(key, v) }

func Int(key string, v int) zap.Field { return zap.Int(key, v) }

func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }

func Any(key string, v any) zap.Field { return zap.Any(key, v) }
