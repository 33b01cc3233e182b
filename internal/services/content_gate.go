package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"purrcast/internal/apperr"
	"purrcast/internal/observability"
)

// Tag is one (label, confidence) pair; confidence is on a 0-100 scale.
type Tag struct {
	Label      string
	Confidence float64
}

// Classifier tags an image. Tags below threshold may be omitted.
type Classifier interface {
	Tags(ctx context.Context, image []byte, threshold int) ([]Tag, error)
}

// drawingLabels mark content that is not a photograph of a real cat.
var drawingLabels = map[string]bool{
	"drawing":      true,
	"cartoon":      true,
	"illustration": true,
	"sketch":       true,
	"clip art":     true,
	"painting":     true,
	"animation":    true,
	"art":          true,
}

// ContentGate decides whether an image may be stored.
type ContentGate struct {
	classifier Classifier
	threshold  int
	catLabels  map[string]bool
	log        logrus.FieldLogger
	metrics    *observability.Metrics
}

func NewContentGate(classifier Classifier, threshold int, catLabels []string, log logrus.FieldLogger, metrics *observability.Metrics) *ContentGate {
	labels := make(map[string]bool, len(catLabels))
	for _, l := range catLabels {
		labels[strings.ToLower(strings.TrimSpace(l))] = true
	}
	return &ContentGate{
		classifier: classifier,
		threshold:  threshold,
		catLabels:  labels,
		log:        log.WithField("component", "content_gate"),
		metrics:    metrics,
	}
}

// Check returns nil when img plausibly shows a real cat. A classifier
// failure is never treated as acceptance.
func (g *ContentGate) Check(ctx context.Context, img []byte) error {
	tags, err := g.classifier.Tags(ctx, img, g.threshold)
	if err != nil {
		g.metrics.ContentGate.WithLabelValues("error").Inc()
		g.log.WithError(err).Warn("classifier call failed")
		return apperr.Unavailable("There was an issue deciphering what was in the image. Please try again later.", err)
	}

	if reason, ok := g.decide(tags); !ok {
		g.metrics.ContentGate.WithLabelValues("rejected").Inc()
		g.log.WithField("reason", reason).Info("image rejected")
		return apperr.New(apperr.KindContentRejected, reason, nil)
	}
	g.metrics.ContentGate.WithLabelValues("accepted").Inc()
	return nil
}

func (g *ContentGate) decide(tags []Tag) (string, bool) {
	threshold := float64(g.threshold)
	cat := false
	for _, t := range tags {
		if t.Confidence < threshold {
			continue
		}
		label := strings.ToLower(strings.TrimSpace(t.Label))
		if drawingLabels[label] {
			return "That looks like a drawing. Please upload a real photo of your cat.", false
		}
		if g.catLabels[label] {
			cat = true
		}
	}
	if !cat {
		return "We couldn't find a cat in that image. Please try a clearer photo.", false
	}
	return "", true
}

// ImaggaClient calls the Imagga v2 tagging endpoint.
type ImaggaClient struct {
	url    string
	key    string
	secret string
	client *http.Client
}

func NewImaggaClient(url, key, secret string, timeout time.Duration) *ImaggaClient {
	return &ImaggaClient{
		url:    url,
		key:    key,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

type imaggaResponse struct {
	Result struct {
		Tags []struct {
			Confidence float64 `json:"confidence"`
			Tag        struct {
				En string `json:"en"`
			} `json:"tag"`
		} `json:"tags"`
	} `json:"result"`
	Status struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"status"`
}

func (c *ImaggaClient) Tags(ctx context.Context, img []byte, threshold int) ([]Tag, error) {
	// 使用 multipart/form-data 格式构建请求体
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)
	if err := writer.WriteField("image_base64", base64.StdEncoding.EncodeToString(img)); err != nil {
		return nil, fmt.Errorf("write image field: %w", err)
	}
	if err := writer.WriteField("threshold", strconv.Itoa(threshold)); err != nil {
		return nil, fmt.Errorf("write threshold field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("imagga request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read imagga response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagga returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed imaggaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("decode imagga response: %w", err)
	}

	tags := make([]Tag, 0, len(parsed.Result.Tags))
	for _, t := range parsed.Result.Tags {
		tags = append(tags, Tag{Label: t.Tag.En, Confidence: t.Confidence})
	}
	return tags, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
