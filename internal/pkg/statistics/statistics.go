package statistics

import (
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/intakecoach/webportal/app/models"
	"github.com/intakecoach/webportal/internal/pkg/cache"
	"github.com/intakecoach/webportal/internal/pkg/database"
)

const (
	CacheKeyUsersTotal   = "statistics:users:total"
	CacheKeyActiveSubs   = "statistics:subscriptions:active"
	CacheKeySignupsDaily = "statistics:signups:daily:%s" // Format with date YYYY-MM-DD
	CacheExpiration      = 30 * time.Minute
)

// PortalStats holds the aggregate numbers shown on the marketing site.
type PortalStats struct {
	TotalUsers          int
	ActiveSubscriptions int
	SignupsToday        int
}

var (
	lastCacheUpdate     time.Time
	cacheUpdateMutex    sync.Mutex
	cacheUpdateInterval = 5 * time.Minute
)

// UpdateCacheIfNeeded refreshes the cached numbers when the interval passed.
func UpdateCacheIfNeeded() {
	cacheUpdateMutex.Lock()
	defer cacheUpdateMutex.Unlock()

	if time.Since(lastCacheUpdate) <= cacheUpdateInterval {
		return
	}

	if err := UpdateStatisticsCache(); err != nil {
		log.Printf("statistics cache refresh: %v", err)
		return
	}
	lastCacheUpdate = time.Now()
}

// UpdateStatisticsCache recomputes the aggregates and writes them to Redis.
func UpdateStatisticsCache() error {
	db := database.GetDB()

	var totalUsers int64
	if err := db.Model(&models.User{}).Count(&totalUsers).Error; err != nil {
		return fmt.Errorf("count users: %w", err)
	}
	if err := cache.Set(CacheKeyUsersTotal, strconv.FormatInt(totalUsers, 10), CacheExpiration); err != nil {
		return err
	}

	var activeSubs int64
	if err := db.Model(&models.BillingSubscription{}).
		Where("status IN ?", []string{models.BillingStatusActive, models.BillingStatusTrialing}).
		Count(&activeSubs).Error; err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	if err := cache.Set(CacheKeyActiveSubs, strconv.FormatInt(activeSubs, 10), CacheExpiration); err != nil {
		return err
	}

	today := time.Now().Format("2006-01-02")
	var signups int64
	if err := db.Model(&models.User{}).
		Where("created_at >= ?", today).
		Count(&signups).Error; err != nil {
		return fmt.Errorf("count signups: %w", err)
	}
	return cache.Set(fmt.Sprintf(CacheKeySignupsDaily, today), strconv.FormatInt(signups, 10), CacheExpiration)
}

// GetPortalStats reads the cached aggregates, refreshing them when missing.
func GetPortalStats() PortalStats {
	UpdateCacheIfNeeded()

	stats := PortalStats{}
	if v, err := cache.GetInt(CacheKeyUsersTotal); err == nil {
		stats.TotalUsers = v
	}
	if v, err := cache.GetInt(CacheKeyActiveSubs); err == nil {
		stats.ActiveSubscriptions = v
	}
	today := time.Now().Format("2006-01-02")
	if v, err := cache.GetInt(fmt.Sprintf(CacheKeySignupsDaily, today)); err == nil {
		stats.SignupsToday = v
	}
	return stats
}
