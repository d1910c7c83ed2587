package httpsvc

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/marketbay/fulfillment/internal/domain"
)

// HeaderIdempotencyKey — заголовок, которым клиент помечает повторяемый запрос.
const HeaderIdempotencyKey = "Idempotency-Key"

// DefaultIdempotencyTTL — время жизни ключа идемпотентности.
var DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyMiddleware защищает мутирующие запросы от повторного
// исполнения. Хэш запроса считается от method:path:body; тот же ключ
// с другим хэшем — конфликт, с тем же — воспроизведение сохранённого
// ответа. Запрос без заголовка проходит без защиты.
func IdempotencyMiddleware(repo domain.IdempotencyRepository, ttl time.Duration, logger *log.Entry) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if logger == nil {
		logger = log.WithField("component", "idempotency")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(HeaderIdempotencyKey)
			if key == "" || repo == nil {
				next.ServeHTTP(w, r)
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			requestHash := hashRequest(r.Method, r.URL.Path, body)
			_, err = repo.CreateProcessing(key, requestHash, time.Now().UTC().Add(ttl))
			switch {
			case err == nil:
				// Первый запрос с этим ключом, обрабатываем и сохраняем ответ.
			case errors.Is(err, domain.ErrIdempotencyHashMismatch):
				writeJSON(w, http.StatusConflict, errorResponse{Error: domain.ErrIdempotencyHashMismatch.Error()})
				return
			case errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists):
				replay(w, repo, key, logger)
				return
			default:
				logger.WithError(err).WithField("key", key).Error("idempotency store failed")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "idempotency store failed"})
				return
			}

			recorder := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)

			if recorder.status < http.StatusBadRequest {
				err = repo.MarkDone(key, recorder.body.Bytes(), recorder.status)
			} else {
				err = repo.MarkFailed(key, recorder.body.Bytes(), recorder.status)
			}
			if err != nil {
				logger.WithError(err).WithField("key", key).Warn("failed to store idempotent response")
			}
		})
	}
}

// replay воспроизводит сохранённый ответ по ключу идемпотентности.
func replay(w http.ResponseWriter, repo domain.IdempotencyRepository, key string, logger *log.Entry) {
	record, err := repo.Get(key)
	if err != nil {
		logger.WithError(err).WithField("key", key).Error("failed to load idempotency record")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "idempotency store failed"})
		return
	}

	if record.Status == domain.IdempotencyStatusProcessing {
		// Первый запрос ещё в полёте, клиенту стоит повторить позже.
		writeJSON(w, http.StatusConflict, errorResponse{Error: "request with this idempotency key is being processed"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(record.HTTPStatus)
	_, _ = w.Write(record.ResponseBody)
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.New()
	sum.Write([]byte(method))
	sum.Write([]byte(":"))
	sum.Write([]byte(path))
	sum.Write([]byte(":"))
	sum.Write(body)
	return hex.EncodeToString(sum.Sum(nil))
}

// responseRecorder дублирует ответ в буфер для последующего replay.
type responseRecorder struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *responseRecorder) Write(p []byte) (int, error) {
	r.body.Write(p)
	return r.ResponseWriter.Write(p)
}
