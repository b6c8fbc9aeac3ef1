// Package es 提供了提示词库在 Elasticsearch 中的索引与检索。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"prompt-forge-go/internal/config"
	"prompt-forge-go/internal/model"
	"prompt-forge-go/pkg/embedding"
	"prompt-forge-go/pkg/log"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// promptMapping 返回 prompt_library 索引的结构，dims > 0 时增加向量字段。
func promptMapping(dims int) map[string]interface{} {
	props := map[string]interface{}{
		"record_id":    map[string]interface{}{"type": "long"},
		"user_id":      map[string]interface{}{"type": "long"},
		"title":        map[string]interface{}{"type": "text", "fields": map[string]interface{}{"keyword": map[string]interface{}{"type": "keyword", "ignore_above": 256}}},
		"prompt_type":  map[string]interface{}{"type": "keyword"},
		"language":     map[string]interface{}{"type": "keyword"},
		"report":       map[string]interface{}{"type": "text"},
		"final_prompt": map[string]interface{}{"type": "text"},
		"version":      map[string]interface{}{"type": "integer"},
		"updated_at":   map[string]interface{}{"type": "date"},
	}
	if dims > 0 {
		props["vector"] = map[string]interface{}{
			"type":       "dense_vector",
			"dims":       dims,
			"index":      true,
			"similarity": "cosine",
		}
	}
	return map[string]interface{}{"mappings": map[string]interface{}{"properties": props}}
}

// InitES 初始化 Elasticsearch 客户端并确保索引存在。
// vectorDims 为 0 表示不建立向量字段。
func InitES(esCfg config.ElasticsearchConfig, vectorDims int) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, vectorDims)
}

func createIndexIfNotExists(indexName string, vectorDims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping, err := json.Marshal(promptMapping(vectorDims))
	if err != nil {
		return err
	}
	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(bytes.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

func docID(recordID uint) string {
	return strconv.FormatUint(uint64(recordID), 10)
}

// IndexPrompt 写入或覆盖一条提示词库文档，文档 id 为记录 id。
func IndexPrompt(ctx context.Context, indexName string, doc model.PromptDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: docID(doc.RecordID),
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index prompt %d: %s", doc.RecordID, res.Status())
	}
	return nil
}

// DeletePrompt 删除一条提示词库文档，文档不存在视为成功。
func DeletePrompt(ctx context.Context, indexName string, recordID uint) error {
	req := esapi.DeleteRequest{
		Index:      indexName,
		DocumentID: docID(recordID),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() && res.StatusCode != http.StatusNotFound {
		log.Errorf("从 Elasticsearch 删除文档出错: %s", res.String())
		return fmt.Errorf("failed to delete prompt %d: %s", recordID, res.Status())
	}
	return nil
}

// SearchPrompts 在指定用户的提示词库中检索，按相关度排序。
// vector 非空时在全文检索之外叠加 k-NN 召回，两者得分相加。
func SearchPrompts(ctx context.Context, indexName string, userID uint, query string, vector []float32, size int) ([]model.PromptSearchHit, error) {
	if size <= 0 {
		size = 10
	}
	userFilter := map[string]interface{}{"term": map[string]interface{}{"user_id": userID}}
	esQuery := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must": map[string]interface{}{
					"multi_match": map[string]interface{}{
						"query":  query,
						"fields": []string{"title^3", "final_prompt^2", "report"},
					},
				},
				"filter": []interface{}{userFilter},
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"final_prompt": map[string]interface{}{"fragment_size": 120, "number_of_fragments": 1},
				"report":       map[string]interface{}{"fragment_size": 120, "number_of_fragments": 1},
			},
		},
	}

	if len(vector) > 0 {
		esQuery["knn"] = map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              size,
			"num_candidates": size * 10,
			"filter":         userFilter,
		}
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		body, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(body))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source    model.PromptDocument `json:"_source"`
				Score     float64              `json:"_score"`
				Highlight map[string][]string  `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	hits := make([]model.PromptSearchHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, model.PromptSearchHit{
			RecordID:   h.Source.RecordID,
			Title:      h.Source.Title,
			PromptType: h.Source.PromptType,
			Snippet:    snippet(h.Highlight, h.Source),
			Version:    h.Source.Version,
			Score:      h.Score,
			UpdatedAt:  model.LocalTime(h.Source.UpdatedAt),
		})
	}
	return hits, nil
}

const snippetRunes = 120

func snippet(highlight map[string][]string, doc model.PromptDocument) string {
	for _, field := range []string{"final_prompt", "report"} {
		if frags := highlight[field]; len(frags) > 0 {
			return frags[0]
		}
	}
	r := []rune(doc.FinalPrompt)
	if len(r) > snippetRunes {
		return string(r[:snippetRunes]) + "…"
	}
	return string(r)
}

// NewDocument 把提示词库记录转换为索引文档。
func NewDocument(rec *model.PromptRecord, finalPrompt string) model.PromptDocument {
	updated := rec.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	return model.PromptDocument{
		RecordID:    rec.ID,
		UserID:      rec.UserID,
		Title:       rec.Title,
		PromptType:  rec.PromptType,
		Language:    rec.Language,
		Report:      rec.RequirementReport,
		FinalPrompt: finalPrompt,
		Version:     rec.Version,
		UpdatedAt:   updated,
	}
}

// Index 把提示词库索引的读写绑定到一个索引名上。
// Embedder 非空时写入文档向量，并在检索时叠加语义召回。
type Index struct {
	Name     string
	Embedder embedding.Client
}

// embedText 是文档参与向量化的文本。
func embedText(doc model.PromptDocument) string {
	return doc.Title + "\n" + doc.FinalPrompt
}

func (i Index) Upsert(ctx context.Context, doc model.PromptDocument) error {
	if i.Embedder != nil && len(doc.Vector) == 0 {
		vec, err := i.Embedder.CreateEmbedding(ctx, embedText(doc))
		if err != nil {
			// 没有向量的文档仍可被全文检索到
			log.Warnf("[ES] 记录 %d 向量化失败，只写入全文字段: %v", doc.RecordID, err)
		} else {
			doc.Vector = vec
		}
	}
	return IndexPrompt(ctx, i.Name, doc)
}

func (i Index) Delete(ctx context.Context, recordID uint) error {
	return DeletePrompt(ctx, i.Name, recordID)
}

func (i Index) Search(ctx context.Context, userID uint, query string, size int) ([]model.PromptSearchHit, error) {
	var vector []float32
	if i.Embedder != nil {
		vec, err := i.Embedder.CreateEmbedding(ctx, query)
		if err != nil {
			log.Warnf("[ES] 查询向量化失败，退回全文检索: %v", err)
		} else {
			vector = vec
		}
	}
	return SearchPrompts(ctx, i.Name, userID, query, vector, size)
}
