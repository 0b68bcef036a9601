package enrichment

import (
	"fmt"
	"strings"
	"text/template"
)

// promptTemplate asks for one JSON object with the three metadata keys. The
// wording is Indonesian and matches the prompts the existing catalogs were
// generated with.
var promptTemplate = template.Must(template.New("enrichment").Parse(
	`Anda adalah asisten data game profesional.
Berdasarkan nama game, berikan tiga informasi berikut:
1. genre: SATU kata (Contoh: 'Shooter', 'RPG', 'Strategy')
2. short_description: Penjelasan singkat di BAWAH 30 kata.
3. player_mode: HANYA 'Singleplayer', 'Multiplayer', atau 'Both'.

Format jawaban HARUS JSON valid.
Contoh:
{
  "genre": "Shooter",
  "short_description": "Tactical 5v5 shooter game.",
  "player_mode": "Multiplayer"
}

Game: {{.Title}}
JSON:
`))

func BuildPrompt(title string) (string, error) {
	var b strings.Builder
	if err := promptTemplate.Execute(&b, struct{ Title string }{title}); err != nil {
		return "", fmt.Errorf("failed to render prompt: %w", err)
	}
	return b.String(), nil
}
