package handlers

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/weaponid/internal/apperr"
	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/logging"
)

const (
	msgRecognized = "识别成功"
	msgNoWeapon   = "No weapon detected"
	msgInternal   = "服务器内部错误"
)

// errorBody is the uniform failure envelope.
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type detectionJSON struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float64    `json:"confidence"`
	BBox       [4]float64 `json:"bbox"`
}

type resultJSON struct {
	Success       bool            `json:"success"`
	Detections    []detectionJSON `json:"detections"`
	PrimaryWeapon *detectionJSON  `json:"primary_weapon,omitempty"`
	Message       string          `json:"message,omitempty"`
}

// round2 rounds half away from zero to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func presentDetection(d detection.Detection) detectionJSON {
	return detectionJSON{
		ClassID:    d.ClassID,
		ClassName:  d.ClassName,
		Confidence: round2(d.Confidence),
		BBox:       d.BBox,
	}
}

func presentDetections(set detection.Set) []detectionJSON {
	out := make([]detectionJSON, 0, len(set.Detections))
	for _, d := range set.Detections {
		out = append(out, presentDetection(d))
	}
	return out
}

func presentResult(set detection.Set) resultJSON {
	result := resultJSON{Success: true, Detections: presentDetections(set)}
	if set.Primary != nil {
		primary := presentDetection(*set.Primary)
		result.PrimaryWeapon = &primary
	} else {
		result.Message = msgNoWeapon
	}
	return result
}

// presentPublic renders the flat shape served by the unauthenticated endpoint.
func presentPublic(set detection.Set) gin.H {
	if set.Primary == nil {
		return gin.H{"message": msgNoWeapon, "detections": []detectionJSON{}}
	}
	primary := presentDetection(*set.Primary)
	return gin.H{
		"success":        true,
		"detections":     presentDetections(set),
		"primary_weapon": primary,
	}
}

// rawJSON embeds stored JSON as-is, falling back to a string if it is not valid.
func rawJSON(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// abortWithError writes the error envelope. Causes of server-side failures are
// logged and never sent to the client.
func abortWithError(c *gin.Context, logger *zap.Logger, err error) {
	appErr, ok := apperr.As(err)
	if !ok {
		appErr = apperr.Wrap(apperr.Internal, msgInternal, err)
	}
	status := appErr.Kind.Status()

	message := appErr.Message
	if message == "" {
		message = http.StatusText(status)
	}
	if status >= http.StatusInternalServerError {
		fields := []zap.Field{
			zap.String("kind", string(appErr.Kind)),
			zap.String("path", c.FullPath()),
		}
		var opErr *logging.OperationError
		if errors.As(err, &opErr) {
			fields = append(fields, opErr.Fields()...)
		} else {
			fields = append(fields, zap.Error(err))
		}
		logger.Error("request failed", fields...)
	}

	c.AbortWithStatusJSON(status, errorBody{Code: status, Message: message, Error: string(appErr.Kind)})
}
