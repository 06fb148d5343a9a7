package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

const (
	requestsPerSecond = 10
	banDuration       = 10 * time.Minute
)

// IPBanStorage implements the Fiber limiter Storage interface with a ban
// list on top: an IP that keeps hammering the auth endpoints after hitting
// the limit is locked out entirely for banDuration.
type IPBanStorage struct {
	mu       sync.RWMutex
	requests map[string][]time.Time
	bans     map[string]time.Time
}

func NewIPBanStorage() *IPBanStorage {
	storage := &IPBanStorage{
		requests: make(map[string][]time.Time),
		bans:     make(map[string]time.Time),
	}
	go storage.cleanup()
	return storage
}

// Get retrieves the request count for an IP as []byte (Fiber Storage interface)
func (s *IPBanStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if until, banned := s.bans[key]; banned && time.Now().Before(until) {
		return []byte("999999"), nil
	}

	return []byte(strconv.Itoa(s.countLocked(key, time.Now()))), nil
}

// Set increments the request count for an IP (Fiber Storage interface)
func (s *IPBanStorage) Set(key string, _ []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if until, banned := s.bans[key]; banned && now.Before(until) {
		return nil
	}

	s.requests[key] = append(s.requests[key], now)

	if s.countLocked(key, now) > requestsPerSecond {
		s.bans[key] = now.Add(banDuration)
	}

	return nil
}

// countLocked counts requests inside the last second; caller holds the lock
func (s *IPBanStorage) countLocked(key string, now time.Time) int {
	count := 0
	for _, ts := range s.requests[key] {
		if now.Sub(ts) <= time.Second {
			count++
		}
	}
	return count
}

func (s *IPBanStorage) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.requests, key)
	delete(s.bans, key)
	return nil
}

func (s *IPBanStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = make(map[string][]time.Time)
	s.bans = make(map[string]time.Time)
	return nil
}

func (s *IPBanStorage) Close() error {
	return nil
}

// cleanup removes expired data periodically
func (s *IPBanStorage) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.mu.Lock()
		now := time.Now()

		for ip, timestamps := range s.requests {
			fresh := timestamps[:0]
			for _, ts := range timestamps {
				if now.Sub(ts) <= time.Second {
					fresh = append(fresh, ts)
				}
			}
			if len(fresh) == 0 {
				delete(s.requests, ip)
			} else {
				s.requests[ip] = fresh
			}
		}

		for ip, until := range s.bans {
			if now.After(until) {
				delete(s.bans, ip)
			}
		}

		s.mu.Unlock()
	}
}

// IsBanned checks if an IP is currently banned
func (s *IPBanStorage) IsBanned(ip string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, banned := s.bans[ip]
	return banned && time.Now().Before(until)
}

var banStorage *IPBanStorage

// InitRateLimiter initializes the Fiber rate limiter with ban functionality
// Allows 10 requests per second, IP banned for 10 minutes on exceeding limit
func InitRateLimiter() fiber.Handler {
	if banStorage == nil {
		banStorage = NewIPBanStorage()
	}

	return limiter.New(limiter.Config{
		Max:        requestsPerSecond,
		Expiration: 1 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			if banStorage.IsBanned(c.IP()) {
				return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
					"error":   "ip banned",
					"message": "your IP has been temporarily banned for exceeding rate limits (10 minutes)",
				})
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "rate limit exceeded",
				"message": "too many requests per second, please slow down",
			})
		},
		Storage: banStorage,
	})
}
