// Package intakewatch watches the receipt intake directory and attaches
// OCR amount suggestions to pending receipt uploads. Suggestions are
// advisory: staff verification remains the only path to a paid
// contribution.
package intakewatch

import (
	"errors"
	"log"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"kopkar/models"
	"kopkar/pkg/artifact"
	"kopkar/pkg/receiptscan"

	"github.com/fsnotify/fsnotify"
	"gorm.io/gorm"
)

// Run sweeps unscanned uploads once, then watches the receipts directory
// for new files. Blocks until the watcher fails.
func Run(db *gorm.DB, store *artifact.LocalStore) error {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	dir := store.AbsPath("receipts")

	fileCh := make(chan string, 256)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range fileCh {
				processUpload(db, store, name)
			}
		}()
	}

	// Initial sweep picks up uploads that arrived while the watcher was
	// down.
	var pending []models.ReceiptUpload
	if err := db.Where("scanned = ? AND failed = ?", false, false).Find(&pending).Error; err != nil {
		return err
	}
	log.Printf("intake sweep: %d unscanned uploads", len(pending))
	for _, u := range pending {
		fileCh <- filepath.Base(u.StorePath)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	log.Printf("watching %s (debounced)", dir)

	// Debounce so partially-written files settle before scanning.
	settled := map[string]time.Time{}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				close(fileCh)
				wg.Wait()
				return nil
			}
			if ev.Op&fsnotify.Create == fsnotify.Create {
				name := filepath.Base(ev.Name)
				if !supportedExt(name) {
					continue
				}
				settled[name] = time.Now()
			}
		case <-ticker.C:
			now := time.Now()
			for name, t := range settled {
				if now.Sub(t) > 300*time.Millisecond {
					fileCh <- name
					delete(settled, name)
				}
			}
		case werr, ok := <-w.Errors:
			if !ok {
				close(fileCh)
				wg.Wait()
				return nil
			}
			log.Printf("watch error: %v", werr)
		}
	}
}

func supportedExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}

// processUpload finds the upload row for the file and attaches the OCR
// result. A scan that finds nothing still marks the row scanned so the
// sweep doesn't retry it forever; hard failures are recorded for staff.
func processUpload(db *gorm.DB, store *artifact.LocalStore, name string) {
	ref := filepath.Join("receipts", name)
	var upload models.ReceiptUpload
	err := db.Where("store_path = ? AND scanned = ? AND failed = ?", ref, false, false).First(&upload).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("intake lookup %s: %v", name, err)
		}
		return
	}

	amount, confidence, err := receiptscan.ExtractAmount(store.AbsPath(ref))
	updates := map[string]any{"scanned": true}
	switch {
	case err == nil:
		updates["suggested_amount"] = amount
		updates["suggested_confidence"] = confidence
		log.Printf("intake scan %s: suggested %s (confidence %.2f)", name, amount, confidence)
	case errors.Is(err, receiptscan.ErrNoAmount):
		log.Printf("intake scan %s: no amount detected", name)
	default:
		updates["scanned"] = false
		updates["failed"] = true
		updates["failed_reason"] = err.Error()
		log.Printf("intake scan %s failed: %v", name, err)
	}
	if err := db.Model(&models.ReceiptUpload{}).Where("id = ?", upload.ID).Updates(updates).Error; err != nil {
		log.Printf("intake update %s: %v", name, err)
	}
}
