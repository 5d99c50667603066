package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Class
	}{
		{"cat need at end", "고양이 필요", AddictSignal},
		{"cat need no space", "고양이필요", AddictSignal},
		{"yaong need", "야옹이가 너무 필요", AddictSignal},
		{"nyaong need", "냐옹이 필요", AddictSignal},
		{"nyang need", "냥이 필요", AddictSignal},
		{"cat need mid sentence", "고양이 필요해요", WantsCat},
		{"cat need on one line after a break", "오늘은\n고양이 사진이 필요", AddictSignal},
		{"cat and need on different lines", "고양이\n사진이 필요", None},
		{"cat line then unrelated need", "고양이 귀엽다\n커피 필요", None},
		{"depressed hae", "오늘 너무 우울해", WantsCat},
		{"depressed ha", "우울하다", WantsCat},
		{"depressed han", "우울한 하루", WantsCat},
		{"meme token", "냐짤 주세요", WantsCat},
		{"want to die eo", "죽고 싶어", WantsCat},
		{"want to die ne no space", "죽고싶네", WantsCat},
		{"want to die da", "죽고  싶다", WantsCat},
		{"dont want to live", "살기 싫어", WantsCat},
		{"dont want to live da", "살기싫다", WantsCat},
		{"depressed then need", "우울해서 고양이 필요", AddictSignal},
		{"plain text", "오늘 날씨 좋다", None},
		{"cat without need", "고양이 귀엽다", None},
		{"need without cat", "커피 필요", None},
		{"depressed stem only", "우울", None},
		{"die without inflection", "죽고 싶", None},
		{"empty", "", None},
		{"english", "I need a cat", None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.text), "Classify(%q)", tt.text)
		})
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "wants_cat", WantsCat.String())
	assert.Equal(t, "addict_signal", AddictSignal.String())
}

func TestClassWants(t *testing.T) {
	assert.False(t, None.Wants())
	assert.True(t, WantsCat.Wants())
	assert.True(t, AddictSignal.Wants())
}
