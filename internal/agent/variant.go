package agent

import "fmt"

// Variant 为 Agent 的类型，决定其记忆写入方式。集合是封闭的。
type Variant string

const (
	VariantConversational Variant = "conversational"
	VariantEpisodic       Variant = "episodic-memory"
	VariantProcedural     Variant = "procedural-memory"
	VariantResource       Variant = "resource-memory"
	VariantKnowledgeVault Variant = "knowledge-vault"
	VariantSemantic       Variant = "semantic-memory"
	VariantCore           Variant = "core-memory"
	VariantMeta           Variant = "meta-memory"
	VariantReflexion      Variant = "reflexion"
	VariantBackground     Variant = "background"
)

var allVariants = []Variant{
	VariantConversational,
	VariantEpisodic,
	VariantProcedural,
	VariantResource,
	VariantKnowledgeVault,
	VariantSemantic,
	VariantCore,
	VariantMeta,
	VariantReflexion,
	VariantBackground,
}

// Variants 返回全部合法类型。
func Variants() []Variant {
	out := make([]Variant, len(allVariants))
	copy(out, allVariants)
	return out
}

func (v Variant) Valid() bool {
	for _, x := range allVariants {
		if v == x {
			return true
		}
	}
	return false
}

// ParseVariant 解析类型名，空字符串视为 conversational。
func ParseVariant(s string) (Variant, error) {
	if s == "" {
		return VariantConversational, nil
	}
	v := Variant(s)
	if !v.Valid() {
		return "", fmt.Errorf("%w: unknown agent variant %q", ErrInvalidInput, s)
	}
	return v, nil
}

// category 返回写入 archival 时使用的分类名。
func (v Variant) category() string {
	switch v {
	case VariantEpisodic:
		return "episodic"
	case VariantProcedural:
		return "procedural"
	case VariantResource:
		return "resource"
	case VariantKnowledgeVault:
		return "knowledge_vault"
	case VariantSemantic:
		return "semantic"
	}
	return string(v)
}
