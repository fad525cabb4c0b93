// Package quiethours 判断当前是否处于静默时段。
//
// IsQuiet 是系统中唯一回答"现在是否静默"的地方；它只影响是否发出新报警，
// 不影响心跳采集。
package quiethours

import (
	"time"
	_ "time/tzdata" // 容器镜像中可能没有 zoneinfo

	"wisefido-liveness/internal/models"
)

// IsQuiet 判断 now 是否处于 cfg 描述的静默时段内
//
// 跨夜时段（start > end，如 22:00→06:00）：minute >= start 或 minute < end；
// 同日时段：start <= minute < end。结束时刻不包含在内。
// 配置缺失、未启用或非法时返回 false。
func IsQuiet(now time.Time, cfg *models.QuietHoursConfig) bool {
	if cfg == nil || !cfg.Enabled {
		return false
	}

	start, err := models.ParseClock(cfg.StartTime)
	if err != nil {
		return false
	}
	end, err := models.ParseClock(cfg.EndTime)
	if err != nil {
		return false
	}

	local := now.In(location(cfg.Timezone))
	if !weekdayActive(isoWeekday(local), cfg.ActiveWeekdays) {
		return false
	}

	minute := local.Hour()*60 + local.Minute()
	if start > end {
		return minute >= start || minute < end
	}
	return start <= minute && minute < end
}

// isoWeekday 周一=1 … 周日=7
func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func weekdayActive(day int, active []int) bool {
	if len(active) == 0 {
		return true
	}
	for _, d := range active {
		if d == day {
			return true
		}
	}
	return false
}

// location 解析时区，空值或未知时区使用 UTC
func location(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}
