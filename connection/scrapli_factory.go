package connection

import (
	"context"

	"github.com/charlesren/ylog"
)

// ScrapliFactory 创建scrapligo驱动
type ScrapliFactory struct{}

func (f *ScrapliFactory) Create(cfg *DeviceConfig) (DeviceDriver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Normalized()
	ylog.Debugf("scrapli", "creating driver for %s, platform: %s", cfg.Host, cfg.Platform)
	return newScrapliDriver(cfg)
}

// HealthCheck 能取到提示符即认为可用
func (f *ScrapliFactory) HealthCheck(ctx context.Context, driver DeviceDriver) bool {
	if !driver.IsAlive() {
		return false
	}
	_, err := driver.GetPrompt(ctx)
	return err == nil
}
