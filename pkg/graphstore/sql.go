package graphstore

import "strings"

// aliasSep joins aliases into one text column per entity row. The unit
// separator never occurs in extracted names.
const aliasSep = "\x1f"

func joinAliases(aliases []string) string {
	seen := make(map[string]struct{}, len(aliases))
	out := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a == "" {
			continue
		}
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return strings.Join(out, aliasSep)
}

func splitAliases(joined string) []string {
	if joined == "" {
		return nil
	}
	return strings.Split(joined, aliasSep)
}

const upsertDocumentSQL = `
INSERT INTO documents (id, title, abstract, year, source_path, processed_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (id) DO UPDATE
SET title        = EXCLUDED.title,
    abstract     = EXCLUDED.abstract,
    year         = EXCLUDED.year,
    source_path  = EXCLUDED.source_path,
    processed_at = now();
`

const upsertEntitiesSQL = `
INSERT INTO entities (category, canonical_name, aliases, embedding)
SELECT * FROM UNNEST($1::text[], $2::text[], $3::text[], $4::vector[])
ON CONFLICT (category, canonical_name) DO UPDATE
SET aliases   = EXCLUDED.aliases,
    embedding = COALESCE(EXCLUDED.embedding, entities.embedding)
RETURNING id, category, canonical_name;
`

const deleteMentionsSQL = `
DELETE FROM mentions WHERE document_id = $1;
`

const deleteEdgesSQL = `
DELETE FROM edges WHERE document_id = $1;
`

const insertMentionsSQL = `
INSERT INTO mentions (document_id, entity_id, role, section, snippet, fallback)
SELECT $1, * FROM UNNEST($2::bigint[], $3::text[], $4::text[], $5::text[], $6::boolean[]);
`

const insertEdgesSQL = `
INSERT INTO edges (
    document_id, source_entity_id, target_entity_id, role, strength,
    role_weight, section_score, keyword_score, semantic_score, explicit_bonus
)
SELECT $1, * FROM UNNEST(
    $2::bigint[], $3::bigint[], $4::text[], $5::float8[],
    $6::float8[], $7::float8[], $8::float8[], $9::float8[], $10::float8[]
);
`

const entitiesByCategorySQL = `
SELECT category, canonical_name, aliases
FROM entities
WHERE category = $1
ORDER BY canonical_name;
`

const aggregatedEdgesSQL = `
SELECT
    se.category,
    se.canonical_name,
    te.category,
    te.canonical_name,
    AVG(e.strength),
    MIN(e.strength),
    MAX(e.strength),
    COUNT(DISTINCT e.document_id)
FROM edges e
JOIN entities se ON se.id = e.source_entity_id
JOIN entities te ON te.id = e.target_entity_id
GROUP BY se.category, se.canonical_name, te.category, te.canonical_name
HAVING COUNT(DISTINCT e.document_id) >= $1
ORDER BY AVG(e.strength) DESC
LIMIT $2;
`

const getDocumentSQL = `
SELECT
    d.id,
    d.title,
    d.year,
    d.source_path,
    (SELECT COUNT(*) FROM mentions m WHERE m.document_id = d.id),
    (SELECT COUNT(*) FROM edges e WHERE e.document_id = d.id)
FROM documents d
WHERE d.id = $1;
`
