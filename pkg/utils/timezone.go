package utils

import (
	"time"
)

const DateLayout = "2006-01-02"

var (
	// ChinaLocation 中国时区 (UTC+8)
	ChinaLocation *time.Location
)

func init() {
	var err error
	ChinaLocation, err = time.LoadLocation("Asia/Shanghai")
	if err != nil {
		// 如果加载失败，使用固定偏移量 UTC+8
		ChinaLocation = time.FixedZone("CST", 8*60*60)
	}
}

// LoadLocation 加载时区，名称为空或无效时回退到 UTC
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// RunDate 返回 t 在指定时区下的日历日期 YYYY-MM-DD
func RunDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}

// ParseRunDate 校验并解析 YYYY-MM-DD
func ParseRunDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DateLayout, s, loc)
}

// NowInChina 获取中国时区的当前时间
func NowInChina() time.Time {
	return time.Now().In(ChinaLocation)
}
