package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"osapio-go/internal/model"
	"osapio-go/pkg/log"
)

// DefaultSearchSize 是一次检索返回的最大条数。
const DefaultSearchSize = 20

var (
	reKeep  = regexp.MustCompile(`[^\p{L}\p{N}_\s]+`)
	reSpace = regexp.MustCompile(`\s+`)
)

// SearchService 接口定义了搜索操作。
type SearchService interface {
	Search(ctx context.Context, userID uint, query string) ([]model.SearchResult, error)
}

type searchService struct {
	indexer AnalysisIndexer
}

// NewSearchService 创建一个新的 SearchService 实例。indexer 为 nil 时检索不可用。
func NewSearchService(indexer AnalysisIndexer) SearchService {
	return &searchService{indexer: indexer}
}

// Search 在当前用户已完成的分析结果中做全文检索。
func (s *searchService) Search(ctx context.Context, userID uint, query string) ([]model.SearchResult, error) {
	if s.indexer == nil {
		return nil, ErrSearchDisabled
	}
	normalized := normalizeQuery(query)
	if normalized == "" {
		return nil, fmt.Errorf("%w: 查询不能为空", ErrInvalidInput)
	}
	if normalized != query {
		log.Infof("[SearchService] 规范化查询: '%s' -> '%s'", query, normalized)
	}
	results, err := s.indexer.SearchAnalyses(ctx, userID, normalized, DefaultSearchSize)
	if err != nil {
		log.Errorf("[SearchService] 检索失败, userID: %d, error: %v", userID, err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Infof("[SearchService] 检索完成, userID: %d, 命中: %d", userID, len(results))
	return results, nil
}

// normalizeQuery 去掉标点并归一空白，保留字母、数字与下划线（IDOC 段名如 E1EDK01 需要原样保留）。
func normalizeQuery(q string) string {
	kept := reKeep.ReplaceAllString(q, " ")
	return strings.TrimSpace(reSpace.ReplaceAllString(kept, " "))
}
