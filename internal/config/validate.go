package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Motion.BlurKernel%2 == 0 {
		return fmt.Errorf("motion.blur_kernel must be odd, got %d", c.Motion.BlurKernel)
	}
	if strings.Count(c.Sources.Weather.PointsURL, "%") != 2 {
		return fmt.Errorf("sources.weather.points_url must contain two verbs for latitude and longitude")
	}
	if c.GRPC.Enabled && c.GRPC.Port == c.Server.Port {
		return fmt.Errorf("grpc.port and server.port must differ (both %d)", c.Server.Port)
	}
	return nil
}

// LogSafe returns a copy with secrets masked.
func (c *Config) LogSafe() Config {
	out := *c
	if out.Auth.Password != "" {
		out.Auth.Password = "****"
	}
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = "****"
	}
	if out.Sources.Traffic.AccessCode != "" {
		out.Sources.Traffic.AccessCode = "****"
	}
	return out
}
