/*
Copyright 2026.

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


package notify

import (
	"bytes"
	_ "embed"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/integration-hub/pkg/retry"
)

// DeadLetterParams feeds the dead letter alert template.
type DeadLetterParams struct {
	Brand         string
	DeadLetterID  string
	HandlerID     string
	EventID       string
	EventType     string
	CorrelationID string
	SourceModule  string
	Attempts      int
	LastError     string
	CreatedAt     time.Time
}

var (
	//go:embed templates/dead_letter.html
	deadLetterTemplateRaw string

	deadLetterTemplate = template.Must(template.New("deadLetter").Funcs(sprig.FuncMap()).Parse(deadLetterTemplateRaw))
)

func paramsFor(brand string, dl retry.DeadLetter) DeadLetterParams {
	return DeadLetterParams{
		Brand:         brand,
		DeadLetterID:  dl.ID,
		HandlerID:     dl.HandlerID,
		EventID:       dl.Event.ID,
		EventType:     string(dl.Event.Type),
		CorrelationID: dl.Event.CorrelationID,
		SourceModule:  string(dl.Event.SourceModule),
		Attempts:      dl.Attempts,
		LastError:     dl.LastError,
		CreatedAt:     dl.CreatedAt,
	}
}

// RenderDeadLetter renders the HTML body of a dead letter alert.
func RenderDeadLetter(p DeadLetterParams) (string, error) {
	var b bytes.Buffer
	if err := deadLetterTemplate.Execute(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}
