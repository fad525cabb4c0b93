package models

import (
	"fmt"
	"strconv"
	"strings"
)

// QuietHoursConfig 静默时段配置（如夜间睡眠时段）
// StartTime/EndTime 格式为 "HH:MM"，Timezone 为 IANA 名称（如 "Asia/Shanghai"）。
// ActiveWeekdays 使用 1(周一)..7(周日)，为空表示每天生效。
type QuietHoursConfig struct {
	Enabled        bool   `json:"enabled"`
	StartTime      string `json:"start_time"`
	EndTime        string `json:"end_time"`
	ActiveWeekdays []int  `json:"active_weekdays,omitempty"`
	Timezone       string `json:"timezone,omitempty"`
}

// AllWeekdays 周一到周日
var AllWeekdays = []int{1, 2, 3, 4, 5, 6, 7}

// ParseClock 将 "HH:MM" 解析为从零点开始的分钟数
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day: %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// Validate 校验配置（仅在写入时使用；读取时非法配置按"未启用"处理）
func (c *QuietHoursConfig) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}
	if _, err := ParseClock(c.StartTime); err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if _, err := ParseClock(c.EndTime); err != nil {
		return fmt.Errorf("end_time: %w", err)
	}
	for _, d := range c.ActiveWeekdays {
		if d < 1 || d > 7 {
			return fmt.Errorf("active_weekdays: %d out of range 1..7", d)
		}
	}
	return nil
}
