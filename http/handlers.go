package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"modelserve/db"
	"modelserve/ml"
	"modelserve/pipeline"
)

// TrainingLog 训练与预测日志存储
type TrainingLog interface {
	SaveTrainingLog(ctx context.Context, rec *db.TrainingRecord) error
	LoadTrainingLog(ctx context.Context, limit int) ([]db.TrainingRecord, error)
	SavePredictionLog(ctx context.Context, runID string, rowCount int, at time.Time) error
}

// HandlerConfig 处理器依赖
type HandlerConfig struct {
	Model          *ml.PredictiveModel
	Uploads        *pipeline.UploadStore
	Log            TrainingLog
	Events         *EventHub
	Split          pipeline.SplitConfig
	MaxUploadBytes int64
	PreviewRows    int
	Logger         *zap.Logger
}

// Handler 数据集上传、训练与预测接口
type Handler struct {
	model          *ml.PredictiveModel
	uploads        *pipeline.UploadStore
	log            TrainingLog
	events         *EventHub
	split          pipeline.SplitConfig
	maxUploadBytes int64
	previewRows    int
	logger         *zap.Logger
	now            func() time.Time
}

// NewHandler 创建处理器
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Split.TestSize == 0 {
		cfg.Split = pipeline.DefaultSplitConfig()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 16 << 20
	}
	if cfg.PreviewRows <= 0 {
		cfg.PreviewRows = 5
	}
	return &Handler{
		model:          cfg.Model,
		uploads:        cfg.Uploads,
		log:            cfg.Log,
		events:         cfg.Events,
		split:          cfg.Split,
		maxUploadBytes: cfg.MaxUploadBytes,
		previewRows:    cfg.PreviewRows,
		logger:         cfg.Logger,
		now:            time.Now,
	}
}

// RegisterRoutes 注册REST接口
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Health)
	r.Post("/api/upload", h.Upload)
	r.Post("/api/train", h.Train)
	r.Post("/api/predict", h.Predict)
	r.Get("/api/model/metadata", h.ModelMetadata)
	r.Get("/api/training/log", h.TrainingLogs)
}

// RegisterStreams 注册WebSocket接口
func (h *Handler) RegisterStreams(r chi.Router) {
	if h.events != nil {
		r.Get("/api/ws/training", h.events.HandleWebSocket)
	}
}

// Health 健康检查
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": h.now().Format(time.RFC3339Nano),
	})
}

// Upload 上传CSV并返回数据集概要
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+(1<<20))
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			h.respondError(w, r, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			h.respondError(w, r, http.StatusBadRequest, "No file part")
		default:
			h.respondError(w, r, http.StatusBadRequest, err.Error())
		}
		return
	}
	defer file.Close()

	if header.Filename == "" {
		h.respondError(w, r, http.StatusBadRequest, "No selected file")
		return
	}
	if header.Size > h.maxUploadBytes {
		h.respondError(w, r, http.StatusRequestEntityTooLarge, "File too large")
		return
	}
	if !pipeline.AllowedFile(header.Filename) {
		h.respondError(w, r, http.StatusBadRequest, "Invalid file type")
		return
	}

	filename, table, err := h.uploads.Save(header.Filename, file)
	if err != nil {
		h.logger.Warn("upload failed", zap.String("filename", header.Filename), zap.Error(err))
		h.respondError(w, r, statusFor(err), err.Error())
		return
	}

	h.logger.Info("dataset uploaded",
		zap.String("filename", filename),
		zap.Int("rows", table.NumRows()),
		zap.Int("columns", table.NumColumns()))
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":    "File uploaded successfully",
		"filename":   filename,
		"statistics": pipeline.Describe(table, h.previewRows),
	})
}

type trainRequest struct {
	Filename     string `json:"filename"`
	TargetColumn string `json:"targetColumn"`
	ProblemType  string `json:"problemType"`
}

// Train 在已上传的数据集上训练模型
func (h *Handler) Train(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Filename == "" || req.TargetColumn == "" {
		h.respondError(w, r, http.StatusBadRequest, "filename and targetColumn are required")
		return
	}
	problem, err := ml.ParseProblemType(req.ProblemType)
	if err != nil {
		h.respondError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	table, err := h.uploads.Load(req.Filename)
	if err != nil {
		h.respondError(w, r, statusFor(err), err.Error())
		return
	}

	h.publish(EventTrainingStarted, map[string]interface{}{
		"filename":     req.Filename,
		"target":       req.TargetColumn,
		"problem_type": problem,
	})

	result, err := pipeline.Train(h.model, table, req.TargetColumn, problem, h.split)
	if result == nil {
		h.recordTraining(r.Context(), req, problem, nil, err)
		h.publish(EventTrainingFailed, map[string]interface{}{
			"filename": req.Filename,
			"target":   req.TargetColumn,
			"error":    err.Error(),
		})
		h.respondError(w, r, statusFor(err), fmt.Sprintf("Error during model training: %v", err))
		return
	}

	h.recordTraining(r.Context(), req, problem, result, nil)
	h.publish(EventTrainingCompleted, map[string]interface{}{
		"metadata": result.Metadata,
		"metrics":  result.Metrics,
	})
	h.respondJSON(w, http.StatusOK, result)
}

type predictRequest struct {
	Data []map[string]interface{} `json:"data"`
}

// Predict 对JSON记录进行预测
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Data == nil {
		h.respondError(w, r, http.StatusBadRequest, "data is required")
		return
	}

	table, err := pipeline.RecordsToTable(req.Data)
	if err != nil {
		h.respondError(w, r, statusFor(err), err.Error())
		return
	}
	predictions, err := h.model.Predict(table)
	if err != nil {
		var missing *ml.MissingFeatureError
		if errors.As(err, &missing) {
			h.respondError(w, r, http.StatusBadRequest, fmt.Sprintf("Missing features: [%s]", strings.Join(missing.Missing, ", ")))
			return
		}
		h.respondError(w, r, statusFor(err), fmt.Sprintf("Error during prediction: %v", err))
		return
	}
	importance, err := h.model.FeatureImportance()
	if err != nil {
		h.respondError(w, r, statusFor(err), err.Error())
		return
	}

	if h.log != nil {
		if err := h.log.SavePredictionLog(r.Context(), h.model.RunID(), predictions.Len(), h.now()); err != nil {
			h.logger.Warn("save prediction log", zap.Error(err))
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"predictions":        predictions.Interfaces(),
		"feature_importance": importance,
	})
}

// ModelMetadata 当前模型的元数据
func (h *Handler) ModelMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := h.model.Metadata()
	if err != nil {
		h.respondError(w, r, statusFor(err), err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, meta)
}

// TrainingLogs 最近的训练记录
func (h *Handler) TrainingLogs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.respondError(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	records := []db.TrainingRecord{}
	if h.log != nil {
		var err error
		records, err = h.log.LoadTrainingLog(r.Context(), limit)
		if err != nil {
			h.logger.Error("load training log", zap.Error(err))
			h.respondError(w, r, http.StatusInternalServerError, "failed to load training log")
			return
		}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs": records,
	})
}

func (h *Handler) recordTraining(ctx context.Context, req trainRequest, problem ml.ProblemType, result *pipeline.TrainingResult, trainErr error) {
	if h.log == nil {
		return
	}
	rec := &db.TrainingRecord{
		Filename:     pipeline.SecureFilename(req.Filename),
		TargetColumn: req.TargetColumn,
		ProblemType:  string(problem),
		Status:       db.StatusFailed,
		TrainedAt:    h.now(),
	}
	if trainErr != nil {
		rec.Error = trainErr.Error()
	}
	if result != nil {
		rec.Status = db.StatusCompleted
		rec.Error = result.Warning
		if result.Metadata != nil {
			rec.RunID = result.Metadata.RunID
			rec.TrainingRows = result.Metadata.TrainingRows
			rec.FeatureCount = len(result.Metadata.FeatureColumns)
		}
		rec.Accuracy = metric(result.Metrics, "accuracy")
		rec.RMSE = metric(result.Metrics, "rmse")
		rec.R2 = metric(result.Metrics, "r2")
	}
	if err := h.log.SaveTrainingLog(ctx, rec); err != nil {
		h.logger.Warn("save training log", zap.Error(err))
	}
}

func metric(metrics map[string]interface{}, key string) *float64 {
	v, ok := metrics[key].(float64)
	if !ok {
		return nil
	}
	return &v
}

func (h *Handler) publish(eventType EventType, data interface{}) {
	if h.events != nil {
		h.events.Publish(eventType, data)
	}
}

// statusFor 将错误映射为HTTP状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUploadNotFound):
		return http.StatusNotFound
	case errors.Is(err, ml.ErrModelNotTrained):
		return http.StatusConflict
	case errors.Is(err, ml.ErrSchemaMismatch),
		errors.Is(err, ml.ErrUnseenCategory),
		errors.Is(err, ml.ErrUnsupportedProblemType),
		errors.Is(err, ml.ErrInvalidDataset),
		errors.Is(err, pipeline.ErrInvalidFileType),
		errors.Is(err, pipeline.ErrInvalidFilename):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON 先编码再写状态码，编码失败时返回500
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("encode response", zap.Int("status", status), zap.Error(err))
		status = http.StatusInternalServerError
		body = []byte(`{"error":"failed to encode response"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("error", message))
	}
	h.respondJSON(w, status, map[string]string{"error": message})
}
