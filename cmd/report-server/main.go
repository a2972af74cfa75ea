/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Command report-server is a read-only HTTP surface over the last N
// daily reports daily-runner has written to disk. It does not recompute
// or enrich anything — every response is a Report struct, verbatim, as
// JSON.
package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/jordigilh/ralph-core/internal/config"
	"github.com/jordigilh/ralph-core/internal/logging"
	"github.com/jordigilh/ralph-core/internal/reportstore"
)

const defaultReportLimit = 20

func main() {
	configPath := flag.String("config", getEnv("CONFIG_PATH", "./config.yaml"), "path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("report-server: no .env file loaded: %v", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("report-server: failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("report-server: failed to build logger: %v", err)
	}
	defer logger.Sync()

	gin.SetMode(getEnv("GIN_MODE", "release"))
	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/reports", func(c *gin.Context) {
		limit := defaultReportLimit
		if q := c.Query("limit"); q != "" {
			if n, err := strconv.Atoi(q); err == nil && n > 0 {
				limit = n
			}
		}

		reports, err := reportstore.List(cfg.Server.ReportsDir, limit)
		if err != nil {
			logger.Error("report-server: failed to list reports", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
			return
		}
		c.JSON(http.StatusOK, reports)
	})

	router.GET("/reports/:run_id", func(c *gin.Context) {
		runID := c.Param("run_id")
		reports, err := reportstore.List(cfg.Server.ReportsDir, 0)
		if err != nil {
			logger.Error("report-server: failed to list reports", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
			return
		}
		for _, report := range reports {
			if report.RunID == runID {
				c.JSON(http.StatusOK, report)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
	})

	logger.Info("report-server: listening", zap.String("port", cfg.Server.ReportPort))
	if err := router.Run(":" + cfg.Server.ReportPort); err != nil {
		logger.Fatal("report-server: server failed", zap.Error(err))
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
