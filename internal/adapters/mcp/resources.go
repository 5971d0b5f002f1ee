package mcp

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

const ndjsonMIME = "application/x-ndjson"

func (s *Server) registerResources() {
	tmpl := mcp.NewResourceTemplate(
		"mcp://resources/export/{id}.ndjson",
		"History export",
		mcp.WithTemplateDescription("NDJSON export of a fetched history window, one message object per line."),
		mcp.WithTemplateMIMEType(ndjsonMIME),
	)
	s.mcp.AddResourceTemplate(tmpl, s.handleReadExport)
}

// handleReadExport отдаёт содержимое выгрузки по её URI. Протокол ресурсов
// не умеет потоковую выдачу, файл читается целиком; размер ограничен порогом
// выгрузки и ёмкостью сканирования окна.
func (s *Server) handleReadExport(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI

	rc, _, err := s.opts.Store.Read(uri)
	if err != nil {
		return nil, errors.Wrap(err, classify(err).Type)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		// Зарегистрированная выгрузка не дочиталась с диска — это не отказ
		// провайдера, а внутренняя поломка хранилища.
		return nil, errors.Wrap(err, CodeInternal)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: ndjsonMIME,
			Text:     string(data),
		},
	}, nil
}
