package driver

var IndexQueries = []string{
	"CREATE INDEX ON :Document(id);",
	"CREATE INDEX ON :Revision(document_id);",
}

const (
	SaveDocumentQuery = `
		MERGE (d:Document {id: $id})
		SET d.content = $content,
			d.topics = $topics,
			d.questions = $questions,
			d.updated_at = $updated_at
		RETURN d.id AS id
	`

	GetDocumentQuery = `
		MATCH (d:Document {id: $id})
		RETURN d.id AS id,
			d.content AS content,
			d.topics AS topics,
			d.questions AS questions,
			d.updated_at AS updated_at
	`

	DeleteDocumentQuery = `
		MATCH (d:Document {id: $id})
		DETACH DELETE d
	`

	// Revisions hang off their document and keep the previous revision as a
	// chain, newest first.
	SaveRevisionQuery = `
		MATCH (d:Document {id: $document_id})
		OPTIONAL MATCH (d)-[:LATEST]->(prev:Revision)
		CREATE (r:Revision {
			uuid: $uuid,
			document_id: $document_id,
			action: $action,
			strategy: $strategy,
			sections_touched: $sections_touched,
			bytes_added: $bytes_added,
			bytes_removed: $bytes_removed,
			contradictions: $contradictions,
			score: $score,
			description: $description,
			created_at: $created_at
		})
		CREATE (d)-[:HAS_REVISION]->(r)
		WITH d, r, prev
		OPTIONAL MATCH (d)-[old:LATEST]->(prev)
		DELETE old
		CREATE (d)-[:LATEST]->(r)
		FOREACH (p IN CASE WHEN prev IS NULL THEN [] ELSE [prev] END |
			CREATE (r)-[:PREVIOUS]->(p))
		RETURN r.uuid AS uuid
	`

	ListRevisionsQuery = `
		MATCH (:Document {id: $document_id})-[:HAS_REVISION]->(r:Revision)
		RETURN r.action AS action,
			r.strategy AS strategy,
			r.sections_touched AS sections_touched,
			r.bytes_added AS bytes_added,
			r.bytes_removed AS bytes_removed,
			r.contradictions AS contradictions,
			r.score AS score,
			r.description AS description,
			r.created_at AS created_at
		ORDER BY r.created_at DESC
		LIMIT $limit
	`
)
