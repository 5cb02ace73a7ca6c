package repo

import (
	"fmt"
	"strings"

	"github.com/iceymoss/go-discovery/pkg/db/objects"
)

const maxSummaryErrors = 5

// Aggregate 按每一条抓取日志（每次尝试）汇总批次状态
//   - 全部成功 -> SUCCEEDED
//   - 没有成功 -> FAILED（包括没有任何已完成的尝试）
//   - 其余 -> PARTIAL，被重试救回的限流尝试也算失败
//
// request_signature 只用于错误摘要里把同一请求的重试合并展示
func Aggregate(logs []objects.FetchLog) (string, string) {
	var succeeded, failed int
	var details []string
	seen := make(map[string]bool)
	for _, l := range logs {
		if l.Status == objects.FetchSuccess {
			succeeded++
			continue
		}
		failed++
		if l.RequestSignature != "" {
			if seen[l.RequestSignature] {
				continue
			}
			seen[l.RequestSignature] = true
		}
		if len(details) < maxSummaryErrors {
			status := l.Status
			if status == objects.FetchPending {
				status = "PENDING"
			}
			details = append(details, fmt.Sprintf("%s source=%s query=%s attempt=%d: %s",
				status, idString(l.SourceID), idString(l.TopicQueryID), l.Attempt, l.ErrorDetail))
		}
	}

	var summary string
	if failed > 0 {
		summary = fmt.Sprintf("%d/%d attempts failed", failed, succeeded+failed)
		if len(details) > 0 {
			summary += "; " + strings.Join(details, "; ")
		}
	}

	switch {
	case succeeded == 0:
		if summary == "" {
			summary = "no fetch attempt completed"
		}
		return objects.CrawlFailed, summary
	case failed == 0:
		return objects.CrawlSucceeded, ""
	default:
		return objects.CrawlPartial, summary
	}
}

func idString(id *uint64) string {
	if id == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *id)
}
